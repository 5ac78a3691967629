// Package publish streams decoded records to a NATS subject as JSON.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"modesfeed/internal/adsb"
)

// DefaultSubject is the subject prefix used when none is configured
const DefaultSubject = "modesfeed.records"

// connection is the part of *nats.Conn the publisher needs
type connection interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends each record to "<subject>.<df name>"
type Publisher struct {
	conn    connection
	subject string
	logger  *logrus.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

// Connect dials the NATS server at url
func Connect(url, subject string, logger *logrus.Logger) (*Publisher, error) {
	if url == "" {
		return nil, errors.New("NATS URL is required")
	}

	nc, err := nats.Connect(url,
		nats.Name("modesfeed"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.WithField("url", c.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"url":     nc.ConnectedUrl(),
		"subject": subject,
	}).Info("Connected to NATS")

	return newPublisher(nc, subject, logger), nil
}

func newPublisher(conn connection, subject string, logger *logrus.Logger) *Publisher {
	subject = strings.TrimSuffix(subject, ".")
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject, logger: logger}
}

// Subject returns the subject a record is published on
func (p *Publisher) Subject(rec adsb.Record) string {
	return p.subject + "." + rec.Format.String()
}

// Record publishes rec. The context is accepted so the publisher can sit
// next to the store recorders.
func (p *Publisher) Record(_ context.Context, rec adsb.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		p.failed.Add(1)
		return fmt.Errorf("marshal record: %w", err)
	}

	if err := p.conn.Publish(p.Subject(rec), data); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("publish %s: %w", rec.ICAO, err)
	}

	p.published.Add(1)
	return nil
}

// Stats returns the number of published and failed records
func (p *Publisher) Stats() (published, failed uint64) {
	return p.published.Load(), p.failed.Load()
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	published, failed := p.Stats()
	p.logger.WithFields(logrus.Fields{
		"published": published,
		"failed":    failed,
	}).Info("Draining NATS connection")
	return p.conn.Drain()
}
