package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prior-auth-mcp-server/internal/domain"
)

// Reason messages. These strings are user facing and stored in the audit trail.
const (
	msgProviderNPIInvalid      = "Provider NPI invalid"
	msgPatientNotFound         = "Patient not found"
	msgClaimDateOutOfWindow    = "Claim date outside 3 years"
	msgProviderNotFound        = "Provider not found"
	msgProviderInactive        = "Provider not active on claim date"
	msgServicesExceedBenes     = "Provider services exceed beneficiaries."
	msgUtilizationDataNotFound = "Provider service/beneficiary data not found"
)

// Clock returns the current time. The rule engine reads "today" from it.
type Clock func() time.Time

// RuleEngine evaluates the prior-authorization eligibility rules against the lookup tables.
// It never writes to the store and keeps no per-call state, so it is safe for concurrent use.
type RuleEngine struct {
	repo        domain.RecordRepository
	logger      *logrus.Logger
	dates       *DateParser
	windowDays  int
	specialties map[string]string
	now         Clock
	predicates  []rulePredicate
}

// RuleEngineOption customizes a RuleEngine.
type RuleEngineOption func(*RuleEngine)

// WithClock overrides the engine's notion of today.
func WithClock(clock Clock) RuleEngineOption {
	return func(e *RuleEngine) {
		e.now = clock
	}
}

// rulePredicate is one eligibility check. Predicates run in slice order and each appends at
// most one failure to the evaluation.
type rulePredicate struct {
	Name     string
	Evaluate func(ctx context.Context, ev *evaluation) error
}

// evaluation carries the values resolved by earlier predicates to later ones.
type evaluation struct {
	patientID     string
	treatmentName string
	npi           int64
	today         time.Time

	insuranceID  string
	claimDate    time.Time
	hasClaimDate bool
	providerType string

	failures []domain.RuleFailure
}

func (ev *evaluation) fail(kind domain.ReasonKind, message string) {
	ev.failures = append(ev.failures, domain.RuleFailure{Kind: kind, Message: message})
}

// NewRuleEngine creates a rule engine from the rules configuration.
func NewRuleEngine(repo domain.RecordRepository, cfg domain.RulesConfig, logger *logrus.Logger, opts ...RuleEngineOption) *RuleEngine {
	windowDays := cfg.ClaimWindowDays
	if windowDays <= 0 {
		windowDays = domain.DefaultRulesConfig().ClaimWindowDays
	}
	specialties := cfg.TreatmentSpecialties
	if len(specialties) == 0 {
		specialties = domain.DefaultTreatmentSpecialties()
	}

	e := &RuleEngine{
		repo:        repo,
		logger:      logger,
		dates:       NewDateParser(cfg.DateFormats),
		windowDays:  windowDays,
		specialties: domain.RulesConfig{TreatmentSpecialties: specialties}.SpecialtyMap(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.predicates = []rulePredicate{
		{Name: "patient_exists", Evaluate: e.checkPatient},
		{Name: "claim_recency", Evaluate: e.checkClaimRecency},
		{Name: "provider_active", Evaluate: e.checkProviderActive},
		{Name: "treatment_authorized", Evaluate: e.checkTreatment},
		{Name: "provider_utilization", Evaluate: e.checkUtilization},
		{Name: "provider_specialty", Evaluate: e.checkSpecialty},
	}

	return e
}

// Evaluate runs every rule predicate in order and returns the accumulated verdict.
//
// A provider NPI that is not purely numeric cannot be queried. In that case Evaluate returns
// a DENIED verdict carrying the single reason "Provider NPI invalid" together with a
// *domain.ParseError, and no predicate runs. Any other error is a store failure and comes
// with a nil verdict.
func (e *RuleEngine) Evaluate(ctx context.Context, patientID, treatmentName, providerNPI string) (*domain.RuleVerdict, error) {
	now := e.now()

	npi, err := ParseNPI(providerNPI)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"patient_id":   patientID,
			"provider_npi": providerNPI,
		}).Warn("Rejected evaluation with invalid provider NPI")
		verdict := domain.NewRuleVerdict([]domain.RuleFailure{
			{Kind: domain.ReasonProviderNPIInvalid, Message: msgProviderNPIInvalid},
		}, now)
		return verdict, err
	}

	ev := &evaluation{
		patientID:     patientID,
		treatmentName: treatmentName,
		npi:           npi,
		today:         civilDate(now),
	}

	for _, p := range e.predicates {
		before := len(ev.failures)
		if err := p.Evaluate(ctx, ev); err != nil {
			return nil, fmt.Errorf("rule %s: %w", p.Name, err)
		}
		if len(ev.failures) > before {
			e.logger.WithFields(logrus.Fields{
				"rule":   p.Name,
				"reason": ev.failures[len(ev.failures)-1].Message,
			}).Debug("Rule failed")
		}
	}

	verdict := domain.NewRuleVerdict(ev.failures, now)

	e.logger.WithFields(logrus.Fields{
		"patient_id":   patientID,
		"treatment":    treatmentName,
		"provider_npi": npi,
		"decision":     verdict.Decision,
		"failures":     len(verdict.Failures),
	}).Info("Completed rule evaluation")

	return verdict, nil
}

// ParseNPI converts a provider NPI to its numeric key. Surrounding whitespace is ignored;
// anything else that is not a digit is rejected, including a leading sign that
// strconv.ParseInt would accept. An NPI is an identifier, not a signed number.
func ParseNPI(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, &domain.ParseError{Field: "provider_npi", Value: s}
	}
	for _, r := range trimmed {
		if r < '0' || r > '9' {
			return 0, &domain.ParseError{Field: "provider_npi", Value: s}
		}
	}
	npi, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, &domain.ParseError{Field: "provider_npi", Value: s, Err: err}
	}
	return npi, nil
}

// ExpectedSpecialty returns the provider type a treatment requires, if the treatment has one.
func (e *RuleEngine) ExpectedSpecialty(treatmentName string) (string, bool) {
	s, ok := e.specialties[treatmentName]
	return s, ok && s != ""
}

func (e *RuleEngine) checkPatient(ctx context.Context, ev *evaluation) error {
	patient, err := e.repo.GetPatient(ctx, ev.patientID)
	if err != nil {
		return err
	}
	if patient == nil {
		ev.fail(domain.ReasonPatientNotFound, msgPatientNotFound)
		return nil
	}

	age := ParseLenientInt(patient.Age)
	if !age.OK {
		e.logger.WithField("patient_id", ev.patientID).Debug("Patient age is not numeric, defaulting to 0")
	}
	ev.insuranceID = patient.InsuranceID
	return nil
}

// checkClaimRecency is skipped when no insurance id was resolved.
func (e *RuleEngine) checkClaimRecency(ctx context.Context, ev *evaluation) error {
	if ev.insuranceID == "" {
		return nil
	}

	ins, err := e.repo.GetInsurance(ctx, ev.insuranceID)
	if err != nil {
		return err
	}
	if ins != nil {
		ev.claimDate, ev.hasClaimDate = e.dates.Parse(ins.ClaimDate)
	}

	if !ev.hasClaimDate || daysBetween(ev.claimDate, ev.today) > e.windowDays {
		ev.fail(domain.ReasonClaimDateOutOfWindow, msgClaimDateOutOfWindow)
	}
	return nil
}

func (e *RuleEngine) checkProviderActive(ctx context.Context, ev *evaluation) error {
	provider, err := e.repo.GetProvider(ctx, ev.npi)
	if err != nil {
		return err
	}
	if provider == nil {
		ev.fail(domain.ReasonProviderNotFound, msgProviderNotFound)
		return nil
	}

	ev.providerType = strings.TrimSpace(provider.ProviderType)

	start, okStart := e.dates.Parse(provider.StartDate)
	end, okEnd := e.dates.Parse(provider.EndDate)
	active := okStart && okEnd && ev.hasClaimDate &&
		!ev.claimDate.Before(start) && !ev.claimDate.After(end)
	if !active {
		ev.fail(domain.ReasonProviderInactive, msgProviderInactive)
	}
	return nil
}

func (e *RuleEngine) checkTreatment(ctx context.Context, ev *evaluation) error {
	count := 0
	if ev.treatmentName != "" {
		n, err := e.repo.CountTreatmentsByName(ctx, ev.treatmentName)
		if err != nil {
			return err
		}
		count = n
	}
	if count <= 0 {
		ev.fail(domain.ReasonTreatmentNotAuthorized,
			fmt.Sprintf("Treatment '%s' not authorized", displayName(ev.treatmentName)))
	}
	return nil
}

// checkUtilization looks the provider up again rather than reusing the activity check's row,
// so the two provider rules can fail independently.
func (e *RuleEngine) checkUtilization(ctx context.Context, ev *evaluation) error {
	provider, err := e.repo.GetProvider(ctx, ev.npi)
	if err != nil {
		return err
	}
	if provider == nil {
		ev.fail(domain.ReasonUtilizationDataNotFound, msgUtilizationDataNotFound)
		return nil
	}

	services := ParseLenientInt(provider.TotalServices).OrDefault(0)
	beneficiaries := ParseLenientInt(provider.TotalBeneficiaries).OrDefault(0)
	if services > beneficiaries {
		ev.fail(domain.ReasonServicesExceedBenes, msgServicesExceedBenes)
	}
	return nil
}

func (e *RuleEngine) checkSpecialty(_ context.Context, ev *evaluation) error {
	expected, ok := e.ExpectedSpecialty(ev.treatmentName)
	if !ok || ev.providerType == "" {
		return nil
	}
	if !strings.EqualFold(ev.providerType, expected) {
		ev.fail(domain.ReasonProviderSpecialtyMismatch,
			fmt.Sprintf("Provider type '%s' does not match treatment '%s'", ev.providerType, ev.treatmentName))
	}
	return nil
}

// displayName renders an absent treatment the way reviewers have always seen it.
func displayName(name string) string {
	if name == "" {
		return "None"
	}
	return name
}
