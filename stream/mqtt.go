// Copyright 2025 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/GermanBionicSystems/accelstream/accel"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// MQTTOpts configures the connection to the broker.
type MQTTOpts struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string // Readings of device i go to <TopicPrefix>/<i>
	QoS         byte
	Timeout     time.Duration
}

// DefaultMQTTOpts publishes at QoS 0 under "accel".
var DefaultMQTTOpts = MQTTOpts{
	Broker:      "tcp://localhost:1883",
	TopicPrefix: "accel",
	Timeout:     10 * time.Second,
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every batch as JSON arrays, one message per device.
// A failed publish drops the batch; the client reconnects on its own.
type MQTTSink struct {
	p       publisher
	client  mqtt.Client
	prefix  string
	qos     byte
	timeout time.Duration
	log     *logrus.Entry
	dropped atomic.Uint64
	groups  map[uint32][]accel.Reading
}

// DialMQTT connects to the broker.
func DialMQTT(o *MQTTOpts, log *logrus.Entry) (*MQTTSink, error) {
	if o == nil {
		o = &DefaultMQTTOpts
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithFields(logrus.Fields{"transport": "mqtt", "broker": o.Broker})
	id := o.ClientID
	if id == "" {
		id = fmt.Sprintf("accelstream-%d", time.Now().UnixNano())
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultMQTTOpts.Timeout
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(id)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetCleanSession(true)
	opts.SetOrderMatters(false)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(timeout)
	opts.SetMaxReconnectInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetWriteTimeout(timeout)
	opts.OnConnect = func(mqtt.Client) {
		log.Info("connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("connection lost")
	}

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, errors.New("stream: mqtt: connect timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("stream: mqtt: %w", err)
	}
	s := newMQTTSink(c, o.TopicPrefix, o.QoS, timeout, log)
	s.client = c
	return s, nil
}

func newMQTTSink(p publisher, prefix string, qos byte, timeout time.Duration, log *logrus.Entry) *MQTTSink {
	if prefix == "" {
		prefix = DefaultMQTTOpts.TopicPrefix
	}
	return &MQTTSink{
		p:       p,
		prefix:  prefix,
		qos:     qos,
		timeout: timeout,
		log:     log,
		groups:  map[uint32][]accel.Reading{},
	}
}

// Topic returns the topic readings of device index are published to.
func (s *MQTTSink) Topic(index uint32) string {
	return fmt.Sprintf("%s/%d", s.prefix, index)
}

// Dropped returns the number of batches that could not be published.
func (s *MQTTSink) Dropped() uint64 {
	return s.dropped.Load()
}

// WriteBatch implements Sink.
func (s *MQTTSink) WriteBatch(b []accel.Reading) error {
	for k := range s.groups {
		s.groups[k] = s.groups[k][:0]
	}
	for _, v := range b {
		s.groups[v.Index] = append(s.groups[v.Index], v)
	}
	indexes := make([]uint32, 0, len(s.groups))
	for k, g := range s.groups {
		if len(g) != 0 {
			indexes = append(indexes, k)
		}
	}
	slices.Sort(indexes)
	for _, i := range indexes {
		payload, err := json.Marshal(s.groups[i])
		if err != nil {
			return fmt.Errorf("stream: mqtt: %w", err)
		}
		tok := s.p.Publish(s.Topic(i), s.qos, false, payload)
		if !tok.WaitTimeout(s.timeout) {
			err = errors.New("publish timed out")
		} else {
			err = tok.Error()
		}
		if err != nil {
			s.dropped.Add(1)
			s.log.WithError(err).WithField("topic", s.Topic(i)).Warn("batch dropped")
		}
	}
	return nil
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	if s.client != nil {
		s.client.Disconnect(250)
	}
	return nil
}
