package events

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/customeros/mailstack/internal/logger"
	"github.com/customeros/mailstack/internal/models"
	"github.com/customeros/mailstack/internal/orchestrator"
	"github.com/customeros/mailstack/interfaces"
)

// TopicAccountProvisioned is the routing key an external provisioning
// system publishes on once a mailbox account's IMAP credentials are ready.
const TopicAccountProvisioned = "account.provisioned"

// ForwardResponses republishes every orchestrator response on the shared
// events exchange, so out-of-process consumers learn about action
// transitions without holding an open connection to the SSE endpoint.
func ForwardResponses(ctx context.Context, responses <-chan interfaces.Response, publisher interfaces.EventPublisher, log logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-responses:
			if !ok {
				return
			}
			event := interfaces.Event{
				Topic:   "action." + string(resp.Kind),
				Key:     strconv.FormatUint(uint64(resp.Action), 10),
				Payload: resp,
			}
			if err := publisher.Publish(ctx, event); err != nil {
				log.Warnf("events: forward response %d: %v", resp.Action, err)
			}
		}
	}
}

type accountProvisionedPayload struct {
	AccountID models.AccountId `json:"accountId"`
}

// AccountProvisionedListener triggers an account's first folder listing as
// soon as provisioning announces it, so a freshly connected account starts
// synchronizing without a manual API call.
func AccountProvisionedListener(o *orchestrator.Orchestrator, log logger.Logger) interfaces.EventListener {
	return func(ctx context.Context, event interfaces.Event) error {
		raw, err := json.Marshal(event.Payload)
		if err != nil {
			return err
		}
		var payload accountProvisionedPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return err
		}
		if payload.AccountID == "" {
			log.Warnf("events: %s event missing accountId", TopicAccountProvisioned)
			return nil
		}
		_, err = o.RetrieveFolderList(ctx, payload.AccountID)
		return err
	}
}
