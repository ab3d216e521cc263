package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"loaner-backend/internal/domain"
	"loaner-backend/internal/logger"
	"loaner-backend/internal/repository"
	"loaner-backend/internal/utils"
)

// HandoffConfig is the fixed, read-only configuration the hand-off pipeline
// runs with.
type HandoffConfig struct {
	InsuranceFeeCents int32
	PartCosts         utils.PartCostSchedule
	// SystemActorID is recorded when no staff member is acting, e.g. a
	// parent signing through the self-service portal.
	SystemActorID int32
}

// Collaborators are the external systems a hand-off talks to. Any of them may
// be nil, in which case the corresponding side effect is skipped.
type Collaborators struct {
	Directory DirectoryService
	Documents DocumentService
	Media     MediaService
	Email     EmailService
}

// stepContext carries one step execution: the decoded request, the session
// being advanced and whatever the step's external phase produced for its
// transactional phase.
type stepContext struct {
	sess     *domain.Session
	checkout *domain.CheckoutRequest
	checkin  *domain.CheckinRequest
	actor    int32
	warnings []string

	fetched   *domain.Person
	photoURLs []string
}

func (sc *stepContext) warn(format string, args ...any) {
	sc.warnings = append(sc.warnings, fmt.Sprintf(format, args...))
}

type stepDef struct {
	name domain.StepName
	// applies decides at session creation whether the step is part of the
	// session. Nil means always.
	applies func(sc *stepContext) bool
	// external runs outside the step transaction, before it. Its error fails
	// the step.
	external func(ctx context.Context, sc *stepContext) error
	// run performs the step's writes. The step's success is recorded in the
	// same transaction.
	run func(ctx context.Context, r repository.Repositories, sc *stepContext) error
	// soft steps move neither money nor ownership and may be force-completed.
	soft bool
}

type orchestrator struct {
	tx     repository.TxManager
	collab Collaborators
	cfg    HandoffConfig
	now    func() time.Time

	checkoutSteps []stepDef
	checkinSteps  []stepDef
}

func NewHandoffService(tx repository.TxManager, collab Collaborators, cfg HandoffConfig) HandoffService {
	o := &orchestrator{
		tx:     tx,
		collab: collab,
		cfg:    cfg,
		now:    time.Now,
	}
	o.checkoutSteps = o.checkoutStepTable()
	o.checkinSteps = o.checkinStepTable()
	return o
}

func (o *orchestrator) stepTable(kind domain.SessionKind) []stepDef {
	if kind == domain.SessionKindCheckin {
		return o.checkinSteps
	}
	return o.checkoutSteps
}

func (o *orchestrator) lookupStep(kind domain.SessionKind, name domain.StepName) (stepDef, bool) {
	for _, def := range o.stepTable(kind) {
		if def.name == name {
			return def, true
		}
	}
	return stepDef{}, false
}

func (o *orchestrator) actorOr(actor int32) int32 {
	if actor == 0 {
		return o.cfg.SystemActorID
	}
	return actor
}

func (o *orchestrator) CreateCheckoutSession(ctx context.Context, req domain.CheckoutRequest) (*domain.Session, error) {
	if req.Insurance == "" {
		req.Insurance = domain.InsuranceDeclined
	}
	if err := validateCheckoutRequest(&req); err != nil {
		return nil, err
	}
	req.ProcessedBy = o.actorOr(req.ProcessedBy)
	return o.createSession(ctx, domain.SessionKindCheckout, req.PersonID, req.DeviceID, req.ProcessedBy, req,
		&stepContext{checkout: &req})
}

func (o *orchestrator) CreateCheckinSession(ctx context.Context, req domain.CheckinRequest) (*domain.Session, error) {
	if req.Condition == "" {
		req.Condition = domain.ReturnConditionGood
	}
	if err := validateCheckinRequest(&req); err != nil {
		return nil, err
	}
	req.ProcessedBy = o.actorOr(req.ProcessedBy)
	return o.createSession(ctx, domain.SessionKindCheckin, req.PersonID, req.DeviceID, req.ProcessedBy, req,
		&stepContext{checkin: &req})
}

func validateCheckoutRequest(req *domain.CheckoutRequest) error {
	if strings.TrimSpace(req.PersonID) == "" || req.DeviceID <= 0 {
		return fmt.Errorf("%w: person_id and device_id are required", domain.ErrInvalidInput)
	}
	switch req.Insurance {
	case domain.InsuranceDeclined, domain.InsurancePayNow, domain.InsurancePayLater:
	default:
		return fmt.Errorf("%w: unknown insurance option %q", domain.ErrInvalidInput, req.Insurance)
	}
	if req.PaymentCents < 0 || (req.Insurance == domain.InsurancePayNow && req.PaymentCents == 0) {
		return fmt.Errorf("%w: pay-now insurance needs a positive payment", domain.ErrInvalidAmount)
	}
	return nil
}

func validateCheckinRequest(req *domain.CheckinRequest) error {
	if strings.TrimSpace(req.PersonID) == "" || req.DeviceID <= 0 {
		return fmt.Errorf("%w: person_id and device_id are required", domain.ErrInvalidInput)
	}
	switch req.Condition {
	case domain.ReturnConditionGood, domain.ReturnConditionDamaged:
	default:
		return fmt.Errorf("%w: unknown return condition %q", domain.ErrInvalidInput, req.Condition)
	}
	if len(req.Parts) > 0 && !req.NeedsMaintenance() {
		return fmt.Errorf("%w: parts reported for a device returned in good condition", domain.ErrInvalidInput)
	}
	return nil
}

func (o *orchestrator) createSession(ctx context.Context, kind domain.SessionKind, personID string, deviceID int32, actor int32, req any, sc *stepContext) (*domain.Session, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	now := o.now()
	sess := &domain.Session{
		ID:            uuid.NewString(),
		Kind:          kind,
		PersonID:      personID,
		DeviceID:      deviceID,
		Request:       payload,
		OverallStatus: domain.SessionStatusInProgress,
		CreatedBy:     actor,
		CreatedOn:     now,
		UpdatedOn:     now,
	}
	for _, def := range o.stepTable(kind) {
		if def.applies == nil || def.applies(sc) {
			sess.Steps = append(sess.Steps, domain.Step{Name: def.name, Status: domain.StepStatusPending, UpdatedOn: now})
		}
	}

	err = o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		return r.Sessions.Create(ctx, sess)
	})
	if err != nil {
		return nil, err
	}
	logger.WithSession(sess.ID).Info("Session created", "kind", kind, "person_id", personID, "device_id", deviceID, "steps", len(sess.Steps))
	return sess, nil
}

func (o *orchestrator) loadSession(ctx context.Context, id string) (*domain.Session, error) {
	var sess *domain.Session
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		sess, err = r.Sessions.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (o *orchestrator) GetSession(ctx context.Context, id string) (*domain.Session, []domain.StepEvent, error) {
	var (
		sess   *domain.Session
		events []domain.StepEvent
	)
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		if sess, err = r.Sessions.GetByID(ctx, id); err != nil {
			return err
		}
		events, err = r.Sessions.ListEvents(ctx, id)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return sess, events, nil
}

// ProcessAll runs every step that has not succeeded, in order, and stops at
// the first failure. Step failures are reported through the session, not the
// error.
func (o *orchestrator) ProcessAll(ctx context.Context, id string, actor int32) (*domain.Session, error) {
	sess, err := o.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Abandoned {
		return sess, fmt.Errorf("%w: %s", domain.ErrSessionAbandoned, id)
	}
	actor = o.actorOr(actor)
	for _, def := range o.stepTable(sess.Kind) {
		st, ok := sess.Step(def.name)
		if !ok || st.Status == domain.StepStatusSucceeded {
			continue
		}
		if err := o.runStep(ctx, sess, def, actor); err != nil {
			return sess, err
		}
		if st, _ := sess.Step(def.name); st.Status != domain.StepStatusSucceeded {
			break
		}
	}
	return sess, nil
}

func (o *orchestrator) RetryAll(ctx context.Context, id string, actor int32) (*domain.Session, error) {
	return o.ProcessAll(ctx, id, actor)
}

func (o *orchestrator) RetryStep(ctx context.Context, id string, name domain.StepName, actor int32) (*domain.Session, error) {
	sess, err := o.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Abandoned {
		return sess, fmt.Errorf("%w: %s", domain.ErrSessionAbandoned, id)
	}
	def, err := o.stepOf(sess, name)
	if err != nil {
		return sess, err
	}
	if sess.Succeeded(name) {
		return sess, nil
	}
	if err := prerequisitesMet(sess, name); err != nil {
		return sess, err
	}
	if err := o.runStep(ctx, sess, def, o.actorOr(actor)); err != nil {
		return sess, err
	}
	return sess, nil
}

func (o *orchestrator) stepOf(sess *domain.Session, name domain.StepName) (stepDef, error) {
	def, ok := o.lookupStep(sess.Kind, name)
	if _, inSession := sess.Step(name); !ok || !inSession {
		return stepDef{}, fmt.Errorf("%w: %s", domain.ErrUnknownStep, name)
	}
	return def, nil
}

// prerequisitesMet requires every step ordered before name to have succeeded.
func prerequisitesMet(sess *domain.Session, name domain.StepName) error {
	for _, st := range sess.Steps {
		if st.Name == name {
			return nil
		}
		if st.Status != domain.StepStatusSucceeded {
			return fmt.Errorf("%w: %s has not succeeded", domain.ErrStepPrerequisite, st.Name)
		}
	}
	return nil
}

// runStep executes def against sess and records the outcome. sess is updated
// in place. The returned error means the outcome could not be recorded.
func (o *orchestrator) runStep(ctx context.Context, sess *domain.Session, def stepDef, actor int32) error {
	sc, err := o.newStepContext(sess, actor)
	if err != nil {
		return err
	}

	updated, stepErr := o.execute(ctx, sc, def)
	if stepErr == nil {
		*sess = *updated
		st, _ := sess.Step(def.name)
		logger.StepEvent(sess.ID, string(def.name), string(st.Status), nil, "attempts", st.Attempts, "warning", st.Warning)
		return nil
	}

	logger.StepEvent(sess.ID, string(def.name), string(domain.StepStatusFailed), stepErr, "kind", domain.KindOf(stepErr))
	err = o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Sessions.GetForUpdate(ctx, sess.ID)
		if err != nil {
			return err
		}
		updated = current
		if current.Abandoned || current.Succeeded(def.name) {
			return nil
		}
		o.mark(current, def.name, domain.StepStatusFailed, stepErr, strings.Join(sc.warnings, "; "), "", true)
		return o.persist(ctx, r, current, def.name, actor)
	})
	if err != nil {
		return fmt.Errorf("record failure of step %s: %w", def.name, err)
	}
	*sess = *updated
	return nil
}

func (o *orchestrator) execute(ctx context.Context, sc *stepContext, def stepDef) (*domain.Session, error) {
	if def.external != nil {
		if err := def.external(ctx, sc); err != nil {
			return nil, err
		}
	}
	var updated *domain.Session
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Sessions.GetForUpdate(ctx, sc.sess.ID)
		if err != nil {
			return err
		}
		if current.Abandoned {
			return fmt.Errorf("%w: %s", domain.ErrSessionAbandoned, current.ID)
		}
		if current.Succeeded(def.name) {
			updated = current
			return nil
		}
		sc.sess = current
		if def.run != nil {
			if err := def.run(ctx, r, sc); err != nil {
				return err
			}
		}
		o.mark(current, def.name, domain.StepStatusSucceeded, nil, strings.Join(sc.warnings, "; "), "", true)
		if err := o.persist(ctx, r, current, def.name, sc.actor); err != nil {
			return err
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (o *orchestrator) newStepContext(sess *domain.Session, actor int32) (*stepContext, error) {
	sc := &stepContext{sess: sess, actor: actor}
	switch sess.Kind {
	case domain.SessionKindCheckout:
		sc.checkout = &domain.CheckoutRequest{}
		if err := json.Unmarshal(sess.Request, sc.checkout); err != nil {
			return nil, fmt.Errorf("decode checkout request of session %s: %w", sess.ID, err)
		}
	case domain.SessionKindCheckin:
		sc.checkin = &domain.CheckinRequest{}
		if err := json.Unmarshal(sess.Request, sc.checkin); err != nil {
			return nil, fmt.Errorf("decode checkin request of session %s: %w", sess.ID, err)
		}
	default:
		return nil, fmt.Errorf("session %s has unknown kind %q", sess.ID, sess.Kind)
	}
	return sc, nil
}

func (o *orchestrator) mark(sess *domain.Session, name domain.StepName, status domain.StepStatus, stepErr error, warning, override string, attempt bool) {
	now := o.now()
	st, ok := sess.Step(name)
	if !ok {
		return
	}
	st.Status = status
	st.Error = ""
	st.ErrorKind = ""
	if stepErr != nil {
		st.Error = stepErr.Error()
		st.ErrorKind = domain.KindOf(stepErr)
	}
	st.Warning = warning
	st.Override = override
	if attempt {
		st.Attempts++
	}
	st.UpdatedOn = now
	sess.UpdatedOn = now
	sess.Evaluate()
}

// persist writes the session header and appends the step's current state to
// the event log.
func (o *orchestrator) persist(ctx context.Context, r repository.Repositories, sess *domain.Session, name domain.StepName, actor int32) error {
	if err := r.Sessions.Update(ctx, sess); err != nil {
		return err
	}
	st, _ := sess.Step(name)
	return r.Sessions.AppendEvent(ctx, &domain.StepEvent{
		SessionID: sess.ID,
		Step:      name,
		Status:    st.Status,
		Error:     st.Error,
		ErrorKind: st.ErrorKind,
		Warning:   st.Warning,
		Override:  st.Override,
		Actor:     actor,
	})
}

// ForceCompleteStep marks a soft step succeeded without running it. The
// reason is kept on the step and in the event log.
func (o *orchestrator) ForceCompleteStep(ctx context.Context, id string, name domain.StepName, actor int32, reason string) (*domain.Session, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: a reason is required to force-complete a step", domain.ErrInvalidInput)
	}
	actor = o.actorOr(actor)
	var sess *domain.Session
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Sessions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if current.Abandoned {
			return fmt.Errorf("%w: %s", domain.ErrSessionAbandoned, id)
		}
		def, err := o.stepOf(current, name)
		if err != nil {
			return err
		}
		if !def.soft {
			return fmt.Errorf("%w: %s", domain.ErrStepNotOverridable, name)
		}
		if current.Succeeded(name) {
			sess = current
			return nil
		}
		if err := prerequisitesMet(current, name); err != nil {
			return err
		}
		st, _ := current.Step(name)
		o.mark(current, name, domain.StepStatusSucceeded, nil, st.Warning, reason, false)
		if err := o.persist(ctx, r, current, name, actor); err != nil {
			return err
		}
		sess = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.WithSession(id).Warn("Step force-completed", "step", name, "actor", actor, "reason", reason)
	return sess, nil
}

func (o *orchestrator) AbandonSession(ctx context.Context, id string, actor int32, reason string) (*domain.Session, error) {
	actor = o.actorOr(actor)
	var sess *domain.Session
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		current, err := r.Sessions.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		sess = current
		if current.Abandoned {
			return nil
		}
		if current.OverallStatus == domain.SessionStatusCompleted {
			return fmt.Errorf("%w: session %s already completed", domain.ErrInvalidInput, id)
		}
		current.Abandoned = true
		current.UpdatedOn = o.now()
		if err := r.Sessions.Update(ctx, current); err != nil {
			return err
		}
		return r.Sessions.AppendEvent(ctx, &domain.StepEvent{
			SessionID: id,
			Status:    domain.StepStatusAbandoned,
			Override:  reason,
			Actor:     actor,
		})
	})
	if err != nil {
		return nil, err
	}
	logger.WithSession(id).Warn("Session abandoned", "actor", actor, "reason", reason)
	return sess, nil
}

func (o *orchestrator) ListStaleSessions(ctx context.Context, olderThan time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := o.tx.WithTx(ctx, func(ctx context.Context, r repository.Repositories) error {
		var err error
		sessions, err = r.Sessions.ListStale(ctx, olderThan)
		return err
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// annotate writes text onto the device in the directory. Failures become
// step warnings.
func (o *orchestrator) annotate(ctx context.Context, sc *stepContext, assetTag, text string) {
	if o.collab.Directory == nil {
		return
	}
	logger.ExternalServiceCall("directory", "NotifyDeviceAnnotation", "asset_tag", assetTag)
	res := o.collab.Directory.NotifyDeviceAnnotation(ctx, assetTag, text)
	if !res.Success {
		err := fmt.Errorf("%s", res.Error)
		logger.ExternalServiceResult("directory", "NotifyDeviceAnnotation", err, "asset_tag", assetTag)
		sc.warn("directory annotation failed: %s", res.Error)
		return
	}
	logger.ExternalServiceResult("directory", "NotifyDeviceAnnotation", nil, "asset_tag", assetTag)
}
