package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/ctgenie-cds-server/internal/domain"
)

// Variability thresholds used by the pathological-tier notes.
const (
	ReducedVariabilityCutoff = 30.0
	DefaultVariability       = 50.0
)

// RecommendationEngine maps a severity tier plus features and patient context to
// an ordered list of clinical action statements.
type RecommendationEngine struct {
	logger *logrus.Logger
	rules  map[domain.SeverityTier]*RecommendationRule
}

// RecommendationRule is the fixed statement table for one tier.
type RecommendationRule struct {
	Tier        domain.SeverityTier
	Name        string
	Statements  []string
	Conditional []ConditionalStatement
}

// ConditionalStatement is appended when Applies holds.
type ConditionalStatement struct {
	Statement string
	Applies   func(features domain.FeatureVector, ctx *domain.PatientContext) bool
}

// NewRecommendationEngine creates a new recommendation engine
func NewRecommendationEngine(logger *logrus.Logger) *RecommendationEngine {
	engine := &RecommendationEngine{
		logger: logger,
		rules:  make(map[domain.SeverityTier]*RecommendationRule),
	}

	engine.initializeRules()

	return engine
}

func (e *RecommendationEngine) initializeRules() {
	e.rules[domain.TierNormal] = &RecommendationRule{
		Tier: domain.TierNormal,
		Name: "Routine monitoring",
		Statements: []string{
			"Continue routine fetal monitoring",
			"Reassess in 30 minutes or per protocol",
			"Document normal tracing characteristics",
		},
	}

	e.rules[domain.TierSuspect] = &RecommendationRule{
		Tier: domain.TierSuspect,
		Name: "Conservative management",
		Statements: []string{
			"⚠️ Category 2 (Indeterminate) pattern detected",
			"Implement conservative measures: maternal repositioning, hydration, oxygen supplementation",
			"Perform fetal scalp stimulation to assess reactivity",
			"Reassess in 15-30 minutes",
			"Notify physician if pattern persists or worsens",
		},
		Conditional: []ConditionalStatement{
			{
				Statement: "📋 Note: Hypertensive disorder present - lower threshold for intervention",
				Applies: func(_ domain.FeatureVector, ctx *domain.PatientContext) bool {
					return ctx.HasRiskFactor("Hypertension")
				},
			},
		},
	}

	e.rules[domain.TierPathological] = &RecommendationRule{
		Tier: domain.TierPathological,
		Name: "Urgent intervention",
		Statements: []string{
			"🚨 Category 3 (Abnormal) pattern detected - IMMEDIATE ACTION REQUIRED",
			"1. Call for immediate physician evaluation",
			"2. Initiate intrauterine resuscitation: lateral position, oxygen 10L/min, IV fluid bolus",
			"3. Discontinue oxytocin if applicable",
			"4. Prepare for possible expedited delivery",
			"5. Assemble delivery team",
		},
		Conditional: []ConditionalStatement{
			{
				Statement: "📊 Reduced variability noted - concerning for fetal compromise",
				Applies: func(f domain.FeatureVector, _ *domain.PatientContext) bool {
					return f.Get(domain.FeatureASTV, DefaultVariability) < ReducedVariabilityCutoff
				},
			},
			{
				Statement: "📊 Prolonged decelerations detected - assess for cord compression or placental abruption",
				Applies: func(f domain.FeatureVector, _ *domain.PatientContext) bool {
					return f.Get(domain.FeatureDP, 0) > 0
				},
			},
		},
	}
}

// Recommend returns the statements for tier in table order, followed by any
// conditional statements that apply.
func (e *RecommendationEngine) Recommend(tier domain.SeverityTier, features domain.FeatureVector, ctx *domain.PatientContext) (domain.RecommendationList, error) {
	rule, ok := e.rules[tier]
	if !ok {
		return nil, fmt.Errorf("no recommendation rule for tier %d", tier)
	}

	out := make(domain.RecommendationList, 0, len(rule.Statements)+len(rule.Conditional))
	out = append(out, rule.Statements...)
	for _, c := range rule.Conditional {
		if c.Applies(features, ctx) {
			out = append(out, c.Statement)
		}
	}

	e.logger.WithFields(logrus.Fields{
		"tier":            tier.String(),
		"rule":            rule.Name,
		"recommendations": len(out),
	}).Debug("Generated clinical recommendations")

	return out, nil
}
