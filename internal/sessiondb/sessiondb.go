// Package sessiondb records sampling sessions, samples and status events to a
// ClickHouse database.
package sessiondb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

const databaseName = "sampled" // official SQL name of the database

// Connection manages one ClickHouse connection and the channels feeding it.
// All inserts are asynchronous; callers never block on the database.
type Connection struct {
	conn      clickhouse.Conn
	err       error
	session   *SessionMessage
	samplemsg chan *SampleMessage
	eventmsg  chan *EventMessage
	sync.WaitGroup
}

// IsConnected reports whether the connection is usable.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable with the configured
// credentials, printing its version.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// Start opens the connection, inserts the session row, and launches the
// goroutine that drains the message channels until abort is closed.
func Start(session *SessionMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.session = session
	db.logSession()
	go db.handleConnection(abort)
	return db
}

// Dummy returns a Connection that accepts and discards everything, for runs
// with no database configured.
func Dummy() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("SAMPLED_DB_USER"),
		Password: os.Getenv("SAMPLED_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "sampled", Version: "unknown"},
		},
	}
	addr := os.Getenv("SAMPLED_DB_ADDR")
	if addr == "" {
		addr = "localhost:9000"
	}
	opt := clickhouse.Options{
		Addr:       []string{addr},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.samplemsg = make(chan *SampleMessage)
	db.eventmsg = make(chan *EventMessage)
	return db
}

func (db *Connection) logSession() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	s := db.session
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		s.ID, s.Hostname, s.Version, s.Githash, s.GoVersion, s.CPUs,
		formatTime(s.Start), formatTime(s.End),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case smsg := <-db.samplemsg:
			db.handleSampleMessage(smsg)
		case emsg := <-db.eventmsg:
			db.handleEventMessage(emsg)
		}
	}
}

// Disconnect finalizes the session row with the end time.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.session.End = time.Now()
		db.logSession()
	}
}

// RecordSample queues one sample for insertion. Non-blocking; a no-op when
// the database is not connected.
func (db *Connection) RecordSample(msg *SampleMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.samplemsg <- msg }()
}

// RecordEvent queues one status event for insertion.
func (db *Connection) RecordEvent(msg *EventMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.eventmsg <- msg }()
}

func (db *Connection) handleSampleMessage(m *SampleMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO samples VALUES (?, ?, ?, ?, ?)`, nowait,
		m.SessionID, m.Source, formatTime(m.Time), m.ElapsedS, m.Values,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into samples ", err)
		db.err = err
	}
}

func (db *Connection) handleEventMessage(m *EventMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO events VALUES (?, ?, ?, ?, ?)`, nowait,
		m.SessionID, m.Source, m.Kind, m.Detail, formatTime(m.Time),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into events ", err)
		db.err = err
	}
}

func formatTime(t time.Time) string {
	return t.Format("2006-01-02 15:04:05.000000")
}
