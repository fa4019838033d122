package contactor

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type BulkRequest struct {
	Receivers []Receiver `json:"receivers"`
	Template  Template   `json:"template"`
	Profile   Profile    `json:"profile"`
}

type BulkProgress struct {
	Total           int    `json:"total"`
	Sent            int    `json:"sent"`
	Failed          int    `json:"failed"`
	CurrentReceiver string `json:"currentReceiver"`
}

type BulkResult struct {
	Success   bool   `json:"success"`
	Partial   bool   `json:"partial"`
	Cancelled bool   `json:"cancelled"`
	Total     int    `json:"total"`
	Sent      int    `json:"sent"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// BulkSender runs an immediate, user driven send of a whole batch.
// Cancel is sticky: a cancelled BulkSender does not start new sends.
type BulkSender struct {
	loop        *sendLoop
	smtpConfigs SMTPConfigRepository
	logger      logrus.FieldLogger

	cancelled atomic.Bool
}

// Cancel stops further sends. An attempt already handed to the transport completes.
func (b *BulkSender) Cancel() {
	b.cancelled.Store(true)
}

func (b *BulkSender) Cancelled() bool {
	return b.cancelled.Load()
}

// Send delivers the template to every address of every valid receiver and
// reports progress after each attempt.
func (b *BulkSender) Send(ctx context.Context, req BulkRequest, onProgress func(BulkProgress)) BulkResult {
	report := func(p BulkProgress) {
		if onProgress != nil {
			onProgress(p)
		}
	}

	fail := func(err error) BulkResult {
		b.logger.WithError(err).Error("bulk send aborted")
		report(BulkProgress{})

		return BulkResult{Error: err.Error()}
	}

	receivers := ValidReceivers(req.Receivers)
	if len(receivers) == 0 {
		return fail(NoValidReceiversErr)
	}

	config, err := b.smtpConfigs.Get(req.Profile.SMTPConfigId)
	if err != nil {
		return fail(errors.Wrapf(err, "failed to resolve smtp config %s", req.Profile.SMTPConfigId))
	}

	deliveries := plan(receivers, nil)
	total := len(deliveries)

	b.logger.
		WithField("template", req.Template.Id).
		WithField("total", total).
		Info("bulk send started")

	sent, failed, stopped := b.loop.run(ctx, loopInput{
		Deliveries: deliveries,
		Template:   req.Template,
		Profile:    req.Profile,
		Config:     config,
		Stop:       b.Cancelled,
	}, func(res deliveryResult) {
		current := res.Receiver.FullName
		if current == "" {
			current = res.Email
		}

		report(BulkProgress{
			Total:           total,
			Sent:            res.Sent,
			Failed:          res.Failed,
			CurrentReceiver: current,
		})
	})

	result := BulkResult{
		Success:   failed == 0 && !stopped,
		Partial:   sent > 0 && failed > 0,
		Cancelled: stopped,
		Total:     total,
		Sent:      sent,
		Failed:    failed,
	}

	if stopped && ctx.Err() != nil {
		result.Error = ctx.Err().Error()
	}

	b.logger.
		WithField("sent", sent).
		WithField("failed", failed).
		WithField("cancelled", stopped).
		Info("bulk send finished")

	return result
}
