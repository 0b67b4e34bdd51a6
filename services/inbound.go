package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/alexlim7/madate-vault-sub000/models"
	"github.com/alexlim7/madate-vault-sub000/monitoring"
	"github.com/alexlim7/madate-vault-sub000/security"
	"github.com/alexlim7/madate-vault-sub000/stores"
	"github.com/alexlim7/madate-vault-sub000/utils"
	"gorm.io/datatypes"
)

// correlationFields names the data field that carries each protocol's
// correlation key.
var correlationFields = map[models.Protocol]string{
	models.ProtocolACP: "token_id",
	models.ProtocolAP2: "mandate_id",
}

const unregisteredEventLabel = "unregistered"

type InboundConfig struct {
	// Secret is the shared HMAC secret of the inbound source. Empty disables
	// signature checks and must only be used in development.
	Secret         string
	AllowedIssuers []string
}

// InboundProcessor turns signed inbound events into authorization state
// changes. Every resolved event leaves exactly one ledger row keyed by
// event_id, and a repeated event_id returns the stored verdict without
// running a handler again.
type InboundProcessor struct {
	tx             Transactor
	authorizations AuthorizationRepository
	ledger         InboundEventRepository
	tenants        TenantDirectory
	audit          *AuditService
	publisher      EventPublisher
	handlers       *HandlerRegistry
	cache          VerdictCache
	secret         string
	allowedIssuers map[string]struct{}
	failureRetry   *utils.RetryConfig
	logger         *utils.Logger
	now            func() time.Time
}

func CreateInboundProcessor(
	tx Transactor,
	authorizations AuthorizationRepository,
	ledger InboundEventRepository,
	tenants TenantDirectory,
	audit *AuditService,
	publisher EventPublisher,
	handlers *HandlerRegistry,
	config InboundConfig,
) *InboundProcessor {
	var allowed map[string]struct{}
	if len(config.AllowedIssuers) > 0 {
		allowed = make(map[string]struct{}, len(config.AllowedIssuers))
		for _, iss := range config.AllowedIssuers {
			allowed[iss] = struct{}{}
		}
	}

	retry := utils.DefaultRetryConfig()
	retry.Retryable = utils.IsRetryableError

	return &InboundProcessor{
		tx:             tx,
		authorizations: authorizations,
		ledger:         ledger,
		tenants:        tenants,
		audit:          audit,
		publisher:      publisher,
		handlers:       handlers,
		secret:         config.Secret,
		allowedIssuers: allowed,
		failureRetry:   retry,
		logger:         utils.NewLogger("inbound"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// WithCache puts a verdict cache in front of the ledger.
func (p *InboundProcessor) WithCache(cache VerdictCache) *InboundProcessor {
	p.cache = cache
	return p
}

// Process runs one inbound event through the pipeline. The returned error is
// always an *utils.APIError carrying the HTTP status for the caller.
func (p *InboundProcessor) Process(ctx context.Context, tenantID string, body []byte, signature string) (*models.InboundResult, error) {
	start := time.Now()
	label := unregisteredEventLabel

	result, err := p.process(ctx, tenantID, body, signature, &label)

	outcome := "processed"
	switch {
	case err != nil:
		outcome = string(utils.KindFromError(err))
	case result.Status == models.InboundStatusAlreadyProcessed:
		outcome = models.InboundStatusAlreadyProcessed
	}
	monitoring.InboundEventsTotal.WithLabelValues(label, outcome).Inc()
	monitoring.InboundProcessingDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())

	return result, err
}

func (p *InboundProcessor) process(ctx context.Context, tenantID string, body []byte, signature string, label *string) (*models.InboundResult, error) {
	if err := security.VerifyRequest(p.secret, body, signature); err != nil {
		p.logger.Warn(ctx, "Rejected inbound event", map[string]interface{}{"reason": err.Error()})
		if errors.Is(err, security.ErrMissingSignature) {
			return nil, utils.ErrMissingSignature
		}
		return nil, utils.ErrInvalidSignature
	}
	// An authenticated event runs to a recorded verdict even if the caller
	// goes away.
	ctx = context.WithoutCancel(ctx)

	env, err := parseEnvelope(body)
	if err != nil {
		return nil, err
	}
	if _, ok := p.handlers.Lookup(env.EventType); ok {
		*label = env.EventType
	}

	stored, found, err := p.lookupVerdict(ctx, env.EventID)
	if err != nil {
		p.logger.Error(ctx, "Ledger lookup failed", map[string]interface{}{"event_id": env.EventID, "error": err})
		return nil, utils.ErrInternalServer
	}
	if found {
		return verdict(stored, models.InboundStatusAlreadyProcessed, ""), nil
	}

	protocol, key, err := correlate(env)
	if err != nil {
		return nil, err
	}

	tenantID, err = resolveTenant(env, tenantID)
	if err != nil {
		return nil, err
	}
	ctx = utils.WithTenantID(ctx, tenantID)

	record := &models.InboundEventRecord{
		EventID:         env.EventID,
		EventType:       env.EventType,
		TenantID:        tenantID,
		Protocol:        protocol,
		CorrelationKey:  key,
		PayloadSnapshot: datatypes.JSON(body),
	}

	var outcome *HandlerOutcome
	err = p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		var applyErr error
		outcome, applyErr = p.apply(txCtx, record, env)
		if applyErr != nil {
			return applyErr
		}
		record.ProcessingStatus = models.ProcessingStatusSuccess
		record.ProcessedAt = p.now()
		return p.ledger.Insert(txCtx, record)
	})

	if err == nil {
		p.remember(ctx, record)
		p.logger.Info(ctx, "Inbound event processed", map[string]interface{}{
			"event_id":         record.EventID,
			"event_type":       record.EventType,
			"authorization_id": derefString(record.ResolvedAuthorizationID),
		})
		return verdict(record, models.InboundStatusProcessed, outcome.Message), nil
	}

	if errors.Is(err, stores.ErrDuplicateEvent) {
		return p.replay(ctx, env.EventID)
	}

	var apiErr *utils.APIError
	if !errors.As(err, &apiErr) {
		p.logger.Error(ctx, "Inbound handler failed", map[string]interface{}{
			"event_id":   record.EventID,
			"event_type": record.EventType,
			"error":      err,
		})
		apiErr = utils.ErrInternalServer
	}

	if dupErr := p.recordFailure(ctx, record, apiErr); errors.Is(dupErr, stores.ErrDuplicateEvent) {
		return p.replay(ctx, env.EventID)
	}
	return nil, apiErr
}

// apply resolves the authorization and runs the handler inside the caller's
// transaction. Returned *utils.APIError values are verdicts to record; any
// other error is an internal failure.
func (p *InboundProcessor) apply(ctx context.Context, record *models.InboundEventRecord, env *models.InboundEnvelope) (*HandlerOutcome, error) {
	active, err := p.tenants.IsActive(ctx, record.TenantID)
	if err != nil {
		return nil, utils.WrapError(err, "tenant lookup failed")
	}
	if !active {
		return nil, utils.ErrTenantInactive
	}

	auth, err := p.authorizations.FindByCorrelationKey(ctx, record.TenantID, record.Protocol, record.CorrelationKey)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, utils.ErrAuthorizationNotFound
	}
	if err != nil {
		return nil, utils.WrapError(err, "authorization lookup failed")
	}
	record.ResolvedAuthorizationID = &auth.ID
	record.AuthorizationStatus = auth.Status

	if !p.issuerAllowed(auth.Issuer) {
		return nil, utils.ErrIssuerNotAllowed
	}

	handler, ok := p.handlers.Lookup(env.EventType)
	if !ok {
		return nil, utils.ErrUnsupportedEventType.WithDetails(env.EventType)
	}

	outcome, err := handler.Handle(ctx, &HandlerContext{
		TenantID:      record.TenantID,
		Envelope:      env,
		Authorization: auth,
		Now:           p.now(),
	})
	if err != nil {
		return nil, utils.WrapError(err, "handler "+env.EventType)
	}
	record.AuthorizationStatus = auth.Status

	if !outcome.Changed {
		return outcome, nil
	}
	if err := p.authorizations.Save(ctx, auth); err != nil {
		return nil, utils.WrapError(err, "failed to save authorization")
	}
	if outcome.AuditEvent != "" {
		if err := p.audit.LogAuthorizationEvent(ctx, outcome.AuditEvent, auth, models.ActorInboundWebhook, outcome.AuditDetails); err != nil {
			return nil, utils.WrapError(err, "failed to write audit entry")
		}
	}
	if outcome.OutboundEvent != "" && p.publisher != nil {
		if _, err := p.publisher.Enqueue(ctx, auth.TenantID, outcome.OutboundEvent, outcome.OutboundData); err != nil {
			return nil, utils.WrapError(err, "failed to enqueue outbound event")
		}
	}
	return outcome, nil
}

// recordFailure persists a FAILED verdict in its own transaction. It returns
// stores.ErrDuplicateEvent when a concurrent delivery recorded first; other
// errors are logged and swallowed.
func (p *InboundProcessor) recordFailure(ctx context.Context, record *models.InboundEventRecord, apiErr *utils.APIError) error {
	record.ProcessingStatus = models.ProcessingStatusFailed
	record.ErrorKind = string(apiErr.Kind)
	record.ErrorMessage = apiErr.Error()
	record.ProcessedAt = p.now()

	err := utils.Retry(ctx, p.failureRetry, func() error {
		return p.tx.WithTransaction(ctx, func(txCtx context.Context) error {
			return p.ledger.Insert(txCtx, record)
		})
	})
	switch {
	case err == nil:
		p.remember(ctx, record)
		p.logger.Info(ctx, "Inbound event recorded as failed", map[string]interface{}{
			"event_id":   record.EventID,
			"error_kind": record.ErrorKind,
		})
	case errors.Is(err, stores.ErrDuplicateEvent):
		return err
	default:
		p.logger.Error(ctx, "Failed to record failed inbound event", map[string]interface{}{
			"event_id": record.EventID,
			"error":    err,
		})
	}
	return nil
}

func (p *InboundProcessor) replay(ctx context.Context, eventID string) (*models.InboundResult, error) {
	stored, err := p.ledger.FindByEventID(ctx, eventID)
	if err != nil {
		p.logger.Error(ctx, "Failed to reload duplicate event", map[string]interface{}{"event_id": eventID, "error": err})
		return nil, utils.ErrInternalServer
	}
	p.remember(ctx, stored)
	return verdict(stored, models.InboundStatusAlreadyProcessed, ""), nil
}

func (p *InboundProcessor) lookupVerdict(ctx context.Context, eventID string) (*models.InboundEventRecord, bool, error) {
	if p.cache != nil {
		cached, ok, err := p.cache.Get(ctx, eventID)
		switch {
		case err != nil:
			monitoring.EventCacheLookupsTotal.WithLabelValues("error").Inc()
			p.logger.Warn(ctx, "Verdict cache unavailable", map[string]interface{}{"error": err})
		case ok:
			monitoring.EventCacheLookupsTotal.WithLabelValues("hit").Inc()
			return cached, true, nil
		default:
			monitoring.EventCacheLookupsTotal.WithLabelValues("miss").Inc()
		}
	}

	stored, err := p.ledger.FindByEventID(ctx, eventID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	p.remember(ctx, stored)
	return stored, true, nil
}

func (p *InboundProcessor) remember(ctx context.Context, record *models.InboundEventRecord) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Put(ctx, record); err != nil {
		p.logger.Warn(ctx, "Failed to cache verdict", map[string]interface{}{"event_id": record.EventID, "error": err})
	}
}

// GetEvent returns the ledger record for eventID. A non-empty tenantID hides
// other tenants' events.
func (p *InboundProcessor) GetEvent(ctx context.Context, tenantID, eventID string) (*models.InboundEventRecord, error) {
	record, err := p.ledger.FindByEventID(ctx, eventID)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, utils.ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantID != "" && record.TenantID != tenantID {
		return nil, utils.ErrEventNotFound
	}
	return record, nil
}

func (p *InboundProcessor) issuerAllowed(issuer string) bool {
	if p.allowedIssuers == nil {
		return true
	}
	_, ok := p.allowedIssuers[issuer]
	return ok
}

func parseEnvelope(body []byte) (*models.InboundEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env models.InboundEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, utils.ErrInvalidPayload.WithDetails(err.Error())
	}
	if err := utils.ValidateStruct(&env); err != nil {
		return nil, err
	}
	return &env, nil
}

// resolveTenant prefers the signed data.tenant_id over the header value and
// rejects the event when both are present and disagree.
func resolveTenant(env *models.InboundEnvelope, header string) (string, error) {
	signed := env.DataString("tenant_id")
	switch {
	case signed != "" && header != "" && signed != header:
		return "", utils.ErrInvalidPayload.WithDetails("tenant_id: does not match tenant header")
	case signed != "":
		return signed, nil
	case header != "":
		return header, nil
	}
	return "", utils.ErrInvalidPayload.WithDetails("tenant_id: required")
}

func correlate(env *models.InboundEnvelope) (models.Protocol, string, error) {
	protocol := models.ProtocolACP
	if raw := env.DataString("protocol"); raw != "" {
		protocol = models.Protocol(raw)
	}
	if !protocol.Valid() {
		return "", "", utils.ErrInvalidPayload.WithDetails("protocol: unsupported value " + string(protocol))
	}
	field := correlationFields[protocol]
	key := env.DataString(field)
	if key == "" {
		return "", "", utils.ErrMissingCorrelationKey.WithDetails(field + ": required")
	}
	return protocol, key, nil
}

func verdict(record *models.InboundEventRecord, status, message string) *models.InboundResult {
	result := &models.InboundResult{
		Status:              status,
		EventID:             record.EventID,
		EventType:           record.EventType,
		AuthorizationID:     derefString(record.ResolvedAuthorizationID),
		AuthorizationStatus: record.AuthorizationStatus,
		ProcessingStatus:    record.ProcessingStatus,
		Error:               record.ErrorKind,
		Message:             message,
	}
	if result.Message == "" {
		switch {
		case status == models.InboundStatusAlreadyProcessed && record.Succeeded():
			result.Message = "Event already processed"
		case status == models.InboundStatusAlreadyProcessed:
			result.Message = "Event already processed: " + record.ErrorMessage
		default:
			result.Message = "Event processed"
		}
	}
	return result
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
