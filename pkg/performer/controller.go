package performer

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// DetectionTrigger is told every time a performer finished starting its stages
type DetectionTrigger interface {
	TryToStartDetecting()
}

// Controller runs every performer in its own goroutine
type Controller struct {
	performers []*Performer
	trigger    DetectionTrigger
	logger     *logrus.Entry

	wg      sync.WaitGroup
	mu      sync.Mutex
	results map[string]Result
}

// NewController creates a controller for performers
func NewController(performers []*Performer, trigger DetectionTrigger, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		performers: performers,
		trigger:    trigger,
		logger:     logger.WithField("component", "performer_controller"),
		results:    make(map[string]Result),
	}
}

// StartPerformers launches every performer and returns immediately
func (c *Controller) StartPerformers(ctx context.Context) {
	for _, p := range c.performers {
		c.wg.Add(1)
		go c.perform(ctx, p)
	}
	c.logger.WithField("performers", len(c.performers)).Info("Finished start of migration")
}

func (c *Controller) perform(ctx context.Context, p *Performer) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithError(fmt.Errorf("panic: %v", r)).WithField("mapping", p.Mapping().String()).
				Error("Performer panicked")
		}
	}()

	result := p.Perform(ctx)
	c.mu.Lock()
	c.results[p.Mapping().String()] = result
	c.mu.Unlock()

	if c.trigger != nil {
		c.trigger.TryToStartDetecting()
	}
}

// Results returns the outcome of every performer that finished Perform, keyed
// by mapping
func (c *Controller) Results() map[string]Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Result, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

func (c *Controller) PausePerformers() {
	for _, p := range c.performers {
		p.Pause()
	}
}

func (c *Controller) ResumePerformers() {
	for _, p := range c.performers {
		p.Resume()
	}
}

// StopPerformers stops every performer, past failures, and waits for the
// performer goroutines
func (c *Controller) StopPerformers() {
	for _, p := range c.performers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.WithError(fmt.Errorf("panic: %v", r)).Warn("Exception while shutting down performer")
				}
			}()
			p.Stop()
		}()
	}
	c.wg.Wait()
	c.logger.Info("Shut down PerformerController")
}
