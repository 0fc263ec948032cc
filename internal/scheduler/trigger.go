package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// Trigger abstracts the cron runner so tests can fire pipelines by hand.
type Trigger interface {
	Add(spec string, run func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// specParser accepts the standard 5-field form: minute hour day month
// weekday.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSpec reports whether spec is a parsable schedule expression.
// Config validation uses it so a bad expression fails at load time instead
// of at Start.
func ValidateSpec(spec string) error {
	if _, err := specParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// CronTrigger runs registered functions on standard 5-field cron schedules.
// A panicking run is recovered and logged so one bad pipeline cannot take
// the runner down.
type CronTrigger struct {
	cron *cron.Cron
}

// NewCronTrigger builds the production trigger.
func NewCronTrigger(log logger.Logger) *CronTrigger {
	c := cron.New(
		cron.WithParser(specParser),
		cron.WithChain(cron.Recover(&cronLogger{log: log})),
	)
	return &CronTrigger{cron: c}
}

// Add registers run under the given schedule and returns its entry id.
func (t *CronTrigger) Add(spec string, run func()) (int, error) {
	id, err := t.cron.AddFunc(spec, run)
	if err != nil {
		return 0, fmt.Errorf("add cron entry %q: %w", spec, err)
	}
	return int(id), nil
}

// Remove drops a scheduled entry.
func (t *CronTrigger) Remove(id int) {
	t.cron.Remove(cron.EntryID(id))
}

// Start begins firing schedules.
func (t *CronTrigger) Start() {
	t.cron.Start()
}

// Stop halts the schedule and waits for in-flight entries to return.
func (t *CronTrigger) Stop() {
	ctx := t.cron.Stop()
	<-ctx.Done()
}

// cronLogger adapts the service logger to the cron library's interface. The
// library's informational chatter maps to debug level.
type cronLogger struct {
	log logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, toFields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...any) {
	fields := append([]logger.Field{logger.Error(err)}, toFields(keysAndValues)...)
	l.log.Error(msg, fields...)
}

func toFields(keysAndValues []any) []logger.Field {
	const pairSize = 2
	fields := make([]logger.Field, 0, len(keysAndValues)/pairSize)
	for i := 0; i+1 < len(keysAndValues); i += pairSize {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		fields = append(fields, logger.Any(key, keysAndValues[i+1]))
	}
	return fields
}
