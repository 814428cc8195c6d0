package sms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSender delivers messages through the Twilio Messages API.
type TwilioSender struct {
	api  messageCreator
	from string
}

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	From       string
	Region     string
	Edge       string
	Timeout    time.Duration
}

func NewTwilioSender(opts TwilioOptions) *TwilioSender {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return newTwilioSender(opts, &http.Client{Timeout: opts.Timeout})
}

func newTwilioSender(opts TwilioOptions, httpClient *http.Client) *TwilioSender {
	base := &twilioclient.Client{
		Credentials: twilioclient.NewCredentials(opts.AccountSID, opts.AuthToken),
		HTTPClient:  httpClient,
	}
	base.SetAccountSid(opts.AccountSID)

	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   opts.AccountSID,
		Password:   opts.AuthToken,
		AccountSid: opts.AccountSID,
		Client:     base,
	})
	if opts.Region != "" {
		rest.SetRegion(opts.Region)
	}
	if opts.Edge != "" {
		rest.SetEdge(opts.Edge)
	}

	return &TwilioSender{api: rest.Api, from: opts.From}
}

// Send ignores ctx once the request is in flight; the HTTP client timeout
// bounds it instead.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.api.CreateMessage(params); err != nil {
		var apiErr *twilioclient.TwilioRestError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("twilio returned %d (code %d): %s: %w", apiErr.Status, apiErr.Code, apiErr.Message, err)
		}
		return fmt.Errorf("sending twilio message: %w", err)
	}
	return nil
}
