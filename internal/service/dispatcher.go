package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"pushrelay/internal/models"
	gatewaytypes "pushrelay/pkg/gateway/types"

	"github.com/sirupsen/logrus"
)

// DispatchQueue is the queue surface the dispatcher consumes.
type DispatchQueue interface {
	ClaimDue(ctx context.Context, now time.Time) ([]models.OutboundMessage, error)
	RecordDispatchMetadata(ctx context.Context, messageID int64, multicastID string) error
	RecordDispatchFailure(ctx context.Context, messageID int64) error
	RecordRecipientResult(ctx context.Context, messageID int64, token string, result gatewaytypes.Result) error
}

// DeviceRegistry is the directory surface the dispatcher uses to act on
// per-recipient gateway verdicts.
type DeviceRegistry interface {
	RotateIdentifier(ctx context.Context, oldToken, newToken string) error
	InvalidateToken(ctx context.Context, token string) error
}

// Dispatcher is the single consumer of the message queue. It polls for due
// messages, pushes each batch to the gateway, and applies the gateway's
// per-recipient outcomes back onto the directory. Exactly one dispatcher
// runs per deployment; the claim protocol assumes it.
type Dispatcher struct {
	queue        DispatchQueue
	registry     DeviceRegistry
	gateway      gatewaytypes.Client
	logger       *logrus.Logger
	pollInterval time.Duration

	// backoffSeconds throttles the whole loop after gateway overload.
	// Guarded by mu so tests can observe it.
	backoffSeconds int
	mu             sync.Mutex

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewDispatcher(queue DispatchQueue, registry DeviceRegistry, gateway gatewaytypes.Client, pollInterval time.Duration, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		queue:        queue,
		registry:     registry,
		gateway:      gateway,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// Start launches the dispatch loop. Calling Start on a running dispatcher
// is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		d.logger.Warn("Dispatcher already running")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(runCtx)
	}()

	d.logger.Info("Dispatcher started")
}

// Stop cancels the loop and waits for the in-flight cycle to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	cancel := d.cancel
	d.mu.Unlock()

	cancel()
	d.wg.Wait()
	d.logger.Info("Dispatcher stopped")
}

// IsRunning reports whether the dispatch loop is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := d.RunCycle(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("Dispatch cycle failed")
		}

		if !d.sleep(ctx, d.currentDelay()) {
			return
		}
	}
}

// currentDelay returns the wait before the next cycle: the overload backoff
// when one is in effect, the poll interval otherwise.
func (d *Dispatcher) currentDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backoffSeconds > 0 {
		return time.Duration(d.backoffSeconds) * time.Second
	}
	return d.pollInterval
}

func (d *Dispatcher) sleep(ctx context.Context, delay time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// RunCycle claims every due message and dispatches them in order. Exported
// so the loop can be driven step by step in tests and maintenance tooling.
func (d *Dispatcher) RunCycle(ctx context.Context) error {
	claimed, err := d.queue.ClaimDue(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	for i := range claimed {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		d.dispatchOne(ctx, &claimed[i])
	}
	return nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, msg *models.OutboundMessage) {
	req := &gatewaytypes.SendRequest{
		RegistrationIDs: msg.RegistrationTokens,
		Data:            gatewaytypes.Payload{Msg: msg.Body},
		DelayWhileIdle:  msg.DelayWhileIdle,
	}
	if msg.CollapseKey != nil {
		req.CollapseKey = *msg.CollapseKey
	}

	resp, err := d.gateway.Send(ctx, req)
	if err != nil {
		// Transport failure abandons the message for this cycle without
		// touching the loop throttle; only gateway overload grows it.
		d.logger.WithError(err).WithField(LogFieldMessageID, msg.MessageID).Error("Gateway send failed")
		if recordErr := d.queue.RecordDispatchFailure(ctx, msg.MessageID); recordErr != nil {
			d.logger.WithError(recordErr).Error("Failed to record dispatch failure")
		}
		return
	}

	d.updateBackoff(resp)

	switch {
	case resp.Overloaded():
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.MessageID,
			"status":          resp.HTTPStatus,
			"backoff_seconds": d.BackoffSeconds(),
		}).Warn("Gateway overloaded")
		if recordErr := d.queue.RecordDispatchFailure(ctx, msg.MessageID); recordErr != nil {
			d.logger.WithError(recordErr).Error("Failed to record dispatch failure")
		}
	case !resp.OK():
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.MessageID,
			"status":          resp.HTTPStatus,
		}).Error("Gateway rejected message")
		if recordErr := d.queue.RecordDispatchFailure(ctx, msg.MessageID); recordErr != nil {
			d.logger.WithError(recordErr).Error("Failed to record dispatch failure")
		}
	default:
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.MessageID,
			"multicast_id":    resp.MulticastID,
			"success":         resp.Success,
			"failure":         resp.Failure,
		}).Info("Message dispatched")
	}

	if resp.MulticastID != 0 {
		if err := d.queue.RecordDispatchMetadata(ctx, msg.MessageID, strconv.FormatInt(resp.MulticastID, 10)); err != nil {
			d.logger.WithError(err).Error("Failed to record multicast id")
		}
	}

	if resp.NeedsResultProcessing() {
		d.processResults(ctx, msg, resp.Results)
	}
}

// processResults walks the gateway's per-recipient results, which are
// positionally aligned with the registration tokens sent in the request.
func (d *Dispatcher) processResults(ctx context.Context, msg *models.OutboundMessage, results []gatewaytypes.Result) {
	if len(results) != len(msg.RegistrationTokens) {
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: msg.MessageID,
			"sent":            len(msg.RegistrationTokens),
			"got":             len(results),
		}).Error("Gateway result count mismatch, skipping result processing")
		return
	}

	for i, result := range results {
		d.handleRecipientResult(ctx, msg.MessageID, msg.RegistrationTokens[i], result)
	}
}

func (d *Dispatcher) handleRecipientResult(ctx context.Context, messageID int64, token string, result gatewaytypes.Result) {
	if err := d.queue.RecordRecipientResult(ctx, messageID, token, result); err != nil {
		d.logger.WithError(err).WithField(LogFieldMessageID, messageID).Error("Failed to record recipient result")
	}

	// A canonical registration id supersedes any error on the same result.
	if result.RegistrationID != "" {
		if err := d.registry.RotateIdentifier(ctx, token, result.RegistrationID); err != nil {
			d.logger.WithError(err).Error("Failed to rotate registration token")
		}
		return
	}

	if result.Error == "" {
		return
	}

	switch result.Error.Classify() {
	case gatewaytypes.ClassificationRetryable:
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: messageID,
			"token":           SanitizeToken(token),
			"error":           result.Error,
		}).Warn("Recipient temporarily unavailable")
	case gatewaytypes.ClassificationDropUser:
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: messageID,
			"token":           SanitizeToken(token),
			"error":           result.Error,
		}).Info("Invalidating recipient token")
		if err := d.registry.InvalidateToken(ctx, token); err != nil {
			d.logger.WithError(err).Error("Failed to invalidate token")
		}
	default:
		d.logger.WithFields(logrus.Fields{
			LogFieldMessageID: messageID,
			"token":           SanitizeToken(token),
			"error":           result.Error,
		}).Warn("Gateway reported send error")
	}
}

// updateBackoff adjusts the loop throttle from the gateway's answer. An
// explicit Retry-After always wins; a clean 200 clears the throttle; a 5xx
// doubles it starting from one second.
func (d *Dispatcher) updateBackoff(resp *gatewaytypes.SendResponse) {
	if resp.RetryAfterSeconds != nil {
		d.mu.Lock()
		d.backoffSeconds = *resp.RetryAfterSeconds
		d.mu.Unlock()
		return
	}
	if resp.OK() {
		d.mu.Lock()
		d.backoffSeconds = 0
		d.mu.Unlock()
		return
	}
	if resp.Overloaded() {
		d.increaseBackoff()
	}
}

// increaseBackoff doubles the throttle, starting from one second.
func (d *Dispatcher) increaseBackoff() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backoffSeconds == 0 {
		d.backoffSeconds = 1
	} else {
		d.backoffSeconds *= 2
	}
}

// BackoffSeconds exposes the current throttle for logs and health output.
func (d *Dispatcher) BackoffSeconds() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.backoffSeconds
}
