package signing

import (
	"context"
	"fmt"

	"utilitysign/internal/model"

	"go.uber.org/zap"
)

// Client exposes the signing operations with their failure policy:
//
//   - CreateSigningRequest, InitiateBankID and LookupProduct return errors.
//   - CheckBankIDStatus never fails; a failed read is reported as status failed.
//   - CancelBankIDSession and TriggerSigningCompletion are best effort and only log.
type Client struct {
	api API
	log *zap.Logger
}

func NewClient(api API, log *zap.Logger) *Client {
	return &Client{api: api, log: log}
}

func (c *Client) CreateSigningRequest(ctx context.Context, input CreateInput) (*model.SigningRequest, error) {
	req, err := c.api.CreateSigningRequest(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create signing request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("invalid signing request from api: %w", err)
	}
	if req.Status == "" {
		req.Status = model.StatusPending
	}
	req.IdempotencyKey = input.IdempotencyKey
	c.log.Debug("Signing request created",
		zap.String("request_id", req.ID),
		zap.String("document_id", input.DocumentID),
		zap.Bool("has_url", req.LaunchURL() != ""),
	)
	return req, nil
}

func (c *Client) InitiateBankID(ctx context.Context, requestID string) (*BankIDSession, error) {
	session, err := c.api.InitiateBankID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to initiate BankID: %w", err)
	}
	c.log.Debug("BankID session initiated",
		zap.String("request_id", requestID),
		zap.String("session_id", session.SessionID),
		zap.String("correlation_id", session.CorrelationID),
	)
	return session, nil
}

// CheckBankIDStatus reads the session status. It is safe to call repeatedly.
func (c *Client) CheckBankIDStatus(ctx context.Context, sessionID string) StatusResult {
	result, err := c.api.CheckBankIDStatus(ctx, sessionID)
	if err != nil {
		c.log.Warn("BankID status check failed", zap.String("session_id", sessionID), zap.Error(err))
		return StatusResult{Status: model.StatusFailed, Err: err}
	}
	return result
}

func (c *Client) CancelBankIDSession(ctx context.Context, sessionID string) {
	if err := c.api.CancelBankIDSession(ctx, sessionID); err != nil {
		c.log.Warn("Failed to cancel BankID session", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	c.log.Info("BankID session cancelled", zap.String("session_id", sessionID))
}

func (c *Client) TriggerSigningCompletion(ctx context.Context, requestID string) {
	if err := c.api.TriggerSigningCompletion(ctx, requestID); err != nil {
		c.log.Warn("Failed to trigger signing completion", zap.String("request_id", requestID), zap.Error(err))
		return
	}
	c.log.Info("Signing completion triggered", zap.String("request_id", requestID))
}

func (c *Client) LookupProduct(ctx context.Context, productID string) (*model.Product, error) {
	p, err := c.api.LookupProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up product %s: %w", productID, err)
	}
	return p, nil
}
