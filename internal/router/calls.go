package router

import (
	"strings"

	"github.com/koltyakov/fedchat/internal/domain"
	"github.com/koltyakov/fedchat/internal/fedproto"
	"github.com/koltyakov/fedchat/internal/metrics"
)

// callDelivery maps a call request kind to the event the callee receives.
func callDelivery(kind string) string {
	switch kind {
	case fedproto.KindCallReject:
		return fedproto.KindCallRejected
	case fedproto.KindCallHangup:
		return fedproto.KindCallEnded
	default:
		return kind
	}
}

// callSignal routes an opaque call payload. Same-instance calls may address
// the callee's session directly; offers may also name a bare username.
func (r *Router) callSignal(s *session, kind string, req fedproto.CallSignal) error {
	if err := requireAuth(s, kind); err != nil {
		return err
	}
	out := fedproto.Message{Kind: callDelivery(kind), Call: &fedproto.CallSignal{
		FromSessionID: s.id,
		FromFKey:      s.fkey,
		FromUsername:  s.username,
		Payload:       req.Payload,
	}}

	if id := strings.TrimSpace(req.TargetSessionID); id != "" {
		target, ok := r.sessions[id]
		if !ok || target.fkey == "" {
			return &domain.OpError{Op: kind, Target: id, Err: domain.ErrTargetNotFound}
		}
		target.send(out)
		r.metrics.Routed(kind, metrics.OutcomeLocal)
		return nil
	}

	fkey := strings.TrimSpace(req.TargetFKey)
	if fkey == "" {
		if kind != fedproto.KindCallOffer {
			return domain.Invalid(kind, "target session or fkey is required")
		}
		username := strings.TrimSpace(req.TargetUsername)
		e, ok := r.dir.FindByUsername(username)
		if !ok {
			return &domain.OpError{Op: kind, Target: username, Err: domain.ErrTargetNotFound}
		}
		fkey = e.FKey
	}

	relay := fedproto.Message{Kind: fedproto.KindFederatedCallSignal, Relay: &fedproto.Relay{
		OriginFKey: s.fkey,
		TargetFKey: fkey,
		Signal:     kind,
		Payload:    req.Payload,
	}}
	outcome, err := r.deliver(kind, fkey, out, relay)
	if err != nil {
		return err
	}
	r.metrics.Routed(kind, outcome)
	return nil
}
