package provider

import (
	"context"
	"errors"

	"webphone-platform/internal/config"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioProvider places calls through the Twilio Voice REST API.
type TwilioProvider struct {
	client *twilio.RestClient
}

func NewTwilioProvider(cfg config.ProviderConfig) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioProvider{client: client}
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if p.client == nil {
		return errors.New("provider: twilio client not configured")
	}
	return nil
}

func (p *TwilioProvider) Connect(ctx context.Context, req ConnectRequest) (ConnectResult, error) {
	if req.From == "" || req.To == "" {
		return ConnectResult{}, errors.New("provider: from and to are required")
	}
	if req.VoiceURL == "" {
		return ConnectResult{}, errors.New("provider: voice url is required")
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(req.From)
	params.SetUrl(req.VoiceURL)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
		params.SetStatusCallbackMethod("POST")
	}

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return ConnectResult{}, err
	}

	out := ConnectResult{}
	if resp.Sid != nil {
		out.ExternalSessionID = *resp.Sid
	}
	if resp.Status != nil {
		out.ProvisionalStatus = *resp.Status
	}
	if out.ExternalSessionID == "" {
		return ConnectResult{}, errors.New("provider: twilio returned no call sid")
	}
	return out, nil
}
