package fedproto

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/koltyakov/fedchat/internal/domain"
)

func TestDecodeValidFrames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
	}{
		{"set_username", `{"kind":"setUsername","setUsername":{"username":"alice"}}`},
		{"send_dm", `{"kind":"sendDM","sendDM":{"targetFKey":"bob@B","text":"hi"}}`},
		{"call_offer_by_username", `{"kind":"callOffer","call":{"targetUsername":"bob","payload":{"sdp":"x"}}}`},
		{"handshake", `{"kind":"handshake","handshake":{"instanceId":"A","advertisedAddress":"a:3000"}}`},
		{"gossip", `{"kind":"peerListGossip","gossip":{"addresses":["b:3001"]}}`},
		{"presence", `{"kind":"presenceUpdate","presence":{"entries":[{"fkey":"bob@B","instanceId":"B"}]}}`},
		{"federated_dm", `{"kind":"federatedDirectMessage","relay":{"originFKey":"a@A","targetFKey":"b@B","dm":{"id":"m1"}}}`},
		{"federated_signal", `{"kind":"federatedCallSignal","relay":{"originFKey":"a@A","targetFKey":"b@B","signal":"callAnswer"}}`},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Decode([]byte(tc.raw)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"unknown_kind", `{"kind":"teleport"}`, ErrUnknownKind},
		{"server_kind", `{"kind":"welcome","welcome":{}}`, ErrUnknownKind},
		{"missing_payload", `{"kind":"sendDM"}`, ErrMissingPayload},
		{"federated_dm_without_dm", `{"kind":"federatedDirectMessage","relay":{"originFKey":"a@A","targetFKey":"b@B"}}`, ErrMissingPayload},
		{"federated_chat_without_id", `{"kind":"federatedChatMessage","chatMessage":{"text":"x"}}`, ErrMissingPayload},
		{"two_variants", `{"kind":"sendDM","sendDM":{"targetFKey":"bob@B","text":"hi"},"chat":{"text":"x"}}`, ErrExtraPayload},
		{"peer_and_session_variants", `{"kind":"handshake","handshake":{"instanceId":"A"},"setUsername":{"username":"alice"}}`, ErrExtraPayload},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode([]byte(tc.raw))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDecodeRejectsMissingRequiredFields(t *testing.T) {
	t.Parallel()

	raws := []string{
		`{"kind":"setUsername","setUsername":{"username":""}}`,
		`{"kind":"sendGuildChat","guildChat":{"guildId":"g","channelId":"c"}}`,
		`{"kind":"callAnswer","call":{"payload":{}}}`,
		`{"kind":"handshakeAck","handshakeAck":{}}`,
		`{"kind":"peerListGossip","gossip":{"addresses":[""]}}`,
		`{"kind":"createChannel","createChannel":{"guildId":"g","name":"voice","type":"voice"}}`,
		`{"kind":"federatedCallSignal","relay":{"originFKey":"a@A","targetFKey":"b@B","signal":"sendDM"}}`,
		`not json`,
	}
	for _, raw := range raws {
		if _, err := Decode([]byte(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestKindClassification(t *testing.T) {
	t.Parallel()

	if !IsSessionKind(KindSendDM) || IsSessionKind(KindHandshake) {
		t.Fatal("session kind mismatch")
	}
	if !IsPeerKind(KindPresenceWithdraw) || IsPeerKind(KindSetUsername) {
		t.Fatal("peer kind mismatch")
	}
	if !IsCallKind(KindCallBusy) || IsCallKind(KindSendDM) {
		t.Fatal("call kind mismatch")
	}
	if !(Message{Kind: KindHandshakeAck}).Priority() || (Message{Kind: KindGlobalChatMessage}).Priority() {
		t.Fatal("priority mismatch")
	}
}

func TestNewErrorUsesWireCode(t *testing.T) {
	t.Parallel()

	msg := NewError(KindDMError, "sendDM", &domain.OpError{Op: "relay", Err: domain.ErrTargetUnreachable})
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	var back Message
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatal(err)
	}
	if back.Error == nil || back.Error.Code != domain.CodeTargetUnreachable || back.Error.Op != "sendDM" {
		t.Fatalf("unexpected error payload: %+v", back.Error)
	}
}
