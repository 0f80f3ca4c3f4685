// Package ingest is the producer side of the queue. Producer validates and
// enqueues discovered items; Feed consumes discovery events from an AMQP queue
// and hands them to a Producer.
package ingest
