package logs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ed-baer97/mektab/internal/interfaces"
	"github.com/ed-baer97/mektab/internal/models"
)

// Consumer drains log batches from arbor's context channel and appends the
// job-correlated entries to each job's event history. Worker loggers carry
// the job id as correlation id, so every line a job logs during a run lands
// in its history without the pipeline appending entries by hand.
type Consumer struct {
	storage  interfaces.JobLogStorage
	logger   arbor.ILogger
	channel  chan []arbormodels.LogEvent
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	minLevel arbor.LogLevel // below this, lines stay console-only
}

// NewConsumer creates a log consumer writing to the given event history.
func NewConsumer(storage interfaces.JobLogStorage, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		storage:  storage,
		logger:   logger,
		channel:  make(chan []arbormodels.LogEvent, 10),
		ctx:      ctx,
		cancel:   cancel,
		minLevel: parseLogLevel(minEventLevel),
	}
}

// parseLogLevel converts string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// GetChannel returns the channel for arbor to send log batches to.
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine.
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop gracefully shuts down the consumer.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

// consume processes log batches from arbor and appends them per job.
func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			// Use the root logger so recovery never feeds the channel again
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}

			// Group entries by job so each history is appended in order
			eventsByJob := make(map[string][]models.JobEvent)
			for _, event := range batch {
				jobID := event.CorrelationID
				if jobID == "" {
					// Uncorrelated lines are system logs, console only
					continue
				}
				if arborlevels.FromLogLevel(event.Level) < c.minLevel {
					continue
				}
				eventsByJob[jobID] = append(eventsByJob[jobID], transformEvent(event))
			}

			var wg sync.WaitGroup
			for jobID, entries := range eventsByJob {
				wg.Add(1)
				go func(jid string, events []models.JobEvent) {
					defer wg.Done()
					for _, ev := range events {
						if err := c.storage.Append(c.ctx, jid, ev); err != nil {
							c.logger.Warn().
								Err(err).
								Str("job_id", jid).
								Msg("Failed to append log entry to job history")
							return
						}
					}
				}(jobID, entries)
			}
			wg.Wait()

		case <-c.ctx.Done():
			return
		}
	}
}

// transformEvent converts an arbor log event into a history entry. The
// correlation id becomes the job id, a "stage" field maps onto the entry's
// stage, and remaining fields are folded into the message as key=value
// pairs in key order.
func transformEvent(event arbormodels.LogEvent) models.JobEvent {
	var stage models.Stage

	message := event.Message
	if len(event.Fields) > 0 {
		keys := make([]string, 0, len(event.Fields))
		for key := range event.Fields {
			if key == "stage" {
				stage = models.Stage(fmt.Sprintf("%v", event.Fields[key]))
				continue
			}
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			message += fmt.Sprintf(" %s=%v", key, event.Fields[key])
		}
	}

	return models.JobEvent{
		Type:      models.EventLog,
		Timestamp: event.Timestamp,
		Stage:     stage,
		Level:     levelWord(event.Level),
		Message:   message,
	}
}

// levelWord normalizes a phuslu level to the history's lowercase words.
func levelWord(level log.Level) string {
	switch level {
	case log.TraceLevel, log.DebugLevel:
		return "debug"
	case log.InfoLevel:
		return "info"
	case log.WarnLevel:
		return "warn"
	case log.ErrorLevel, log.FatalLevel, log.PanicLevel:
		return "error"
	default:
		return "info"
	}
}
