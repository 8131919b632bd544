package composer

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rpms-portal/messaging/internal/model"
	"github.com/rpms-portal/messaging/pkg/metrics"
)

// maxForwardConcurrency bounds outstanding sends in one forward.
const maxForwardConcurrency = 8

// ForwardResult is the outcome of forwarding to one contact.
type ForwardResult struct {
	ContactID string
	Message   *model.Message
	Err       error
}

// ForwardReport lists one result per distinct target, in request order.
type ForwardReport struct {
	Results []ForwardResult
}

// Succeeded returns the targets that received the message.
func (r *ForwardReport) Succeeded() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err == nil {
			out = append(out, res.ContactID)
		}
	}
	return out
}

// Failed returns the targets whose send failed.
func (r *ForwardReport) Failed() []string {
	var out []string
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res.ContactID)
		}
	}
	return out
}

// Forward sends a copy of msg to every target concurrently. Copies carry the
// original content and attachment, are marked forwarded, and never carry a
// reply link. The report is always returned; the error is nil only if every
// send succeeded.
func (c *Composer) Forward(ctx context.Context, msg model.Message, targets []string) (*ForwardReport, error) {
	targets = distinct(targets)
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	probe := model.NewSendMessageRequest(targets[0], msg.Content, msg.Attachment, "", true)
	if err := probe.Validate(); err != nil {
		return nil, err
	}

	report := &ForwardReport{Results: make([]ForwardResult, len(targets))}
	var g errgroup.Group
	g.SetLimit(maxForwardConcurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			req := model.NewSendMessageRequest(target, msg.Content, msg.Attachment, "", true)
			sent, err := c.api.SendMessage(ctx, req)
			metrics.RecordForward(err)
			report.Results[i] = ForwardResult{ContactID: target, Message: sent, Err: err}
			return nil
		})
	}
	g.Wait()

	var errs error
	refresh := false
	active, hasActive := c.thread.ActiveContact()
	for _, res := range report.Results {
		if res.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("forward to %s: %w", res.ContactID, res.Err))
			continue
		}
		c.thread.AppendSent(*res.Message)
		if hasActive && res.ContactID == active {
			refresh = true
		}
	}

	if refresh {
		if err := c.thread.RefreshMessages(ctx); err != nil {
			c.logger.Warn("failed to refresh thread after forward", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.lastErr = errs
	c.mu.Unlock()

	if errs != nil {
		c.logger.Warn("forward incomplete",
			zap.Strings("failed", report.Failed()),
			zap.Strings("succeeded", report.Succeeded()),
		)
	}
	return report, errs
}

func distinct(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
