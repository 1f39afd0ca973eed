// ABOUTME: Access policy evaluator mapping (principal, operation, target) to allow/deny
// ABOUTME: Deny by default; any granting scope allows; reloads swap the policy atomically

package auth

import (
	"log/slog"
	"sync/atomic"
)

// DenyReason is the machine-readable cause attached to a denial.
// Reasons never enumerate which scopes exist, only why this caller
// was refused.
type DenyReason string

// Denial reasons
const (
	ReasonNoMatchingScope DenyReason = "NoMatchingScope"
	ReasonServiceDisabled DenyReason = "ServiceDisabled"
	ReasonServiceNotFound DenyReason = "ServiceNotFound"
)

// Decision is the ephemeral result of a policy evaluation.
type Decision struct {
	Allowed bool
	Reason  DenyReason // set only on denials
}

// Allow is the granting decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a denying decision with the given reason.
func Deny(reason DenyReason) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Evaluator answers allow/deny questions against the loaded scope
// policy. The policy pointer is swapped whole on reload so concurrent
// evaluations never observe a half-updated mapping.
type Evaluator struct {
	policyPath string
	policy     atomic.Pointer[Policy]
	logger     *slog.Logger
}

// NewEvaluator loads the policy file at path and returns an Evaluator.
func NewEvaluator(policyPath string) (*Evaluator, error) {
	e := &Evaluator{
		policyPath: policyPath,
		logger:     slog.Default().With("component", "policy"),
	}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// NewStaticEvaluator wraps an already-built policy, mainly for tests.
func NewStaticEvaluator(policy *Policy) *Evaluator {
	e := &Evaluator{logger: slog.Default().With("component", "policy")}
	e.policy.Store(policy)
	return e
}

// Reload re-reads the policy file and atomically swaps the mapping.
// On failure the previous policy stays in effect.
func (e *Evaluator) Reload() error {
	policy, err := LoadPolicy(e.policyPath)
	if err != nil {
		return err
	}
	e.policy.Store(policy)
	e.logger.Info("scope policy loaded", "path", e.policyPath, "scopes", len(policy.Scopes))
	return nil
}

// Evaluate decides whether the principal may perform op against the
// target service (and tool, for execute). Deny by default; the decision
// is the OR across all scopes the principal holds.
//
// For OperationAdmin, servicePath and tool are ignored: admin rights
// are registry-wide.
func (e *Evaluator) Evaluate(p *Principal, op Operation, servicePath, tool string) Decision {
	if p == nil {
		return Deny(ReasonNoMatchingScope)
	}

	policy := e.policy.Load()
	if policy == nil {
		return Deny(ReasonNoMatchingScope)
	}

	for _, scopeName := range p.Scopes {
		grant, ok := policy.Scopes[scopeName]
		if !ok {
			continue
		}
		if !grant.permits(op) {
			continue
		}
		if op == OperationAdmin {
			if grant.Admin {
				return Allow()
			}
			continue
		}
		if grant.Unrestricted || grant.Admin {
			return Allow()
		}
		sg, ok := grant.grantFor(servicePath)
		if !ok {
			continue
		}
		if op == OperationExecute && tool != "" && len(sg.Tools) > 0 {
			if !containsString(sg.Tools, tool) {
				continue
			}
		}
		return Allow()
	}

	return Deny(ReasonNoMatchingScope)
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
