package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"clawtrust/internal/domain"
)

const zeroEventHash = "0000000000000000000000000000000000000000000000000000000000000000"

// ZeroEventHash is the prev-hash of the first event in every chain.
func ZeroEventHash() string { return zeroEventHash }

// ChainEvent completes a settlement event so that it links onto the
// chain head (prevSeq, prevHash): it assigns the sequence number,
// hashes the payload, and computes the event hash.
func ChainEvent(canon Canonicalizer, event domain.SettlementEvent, prevSeq int64, prevHash string) (domain.SettlementEvent, error) {
	if event.AgreementID == "" || event.EventType == "" {
		return domain.SettlementEvent{}, errors.New("settlement event missing agreement_id or event_type")
	}
	if prevHash == "" {
		return domain.SettlementEvent{}, errors.New("chain head hash is required")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.CreatedAt.IsZero() {
		return domain.SettlementEvent{}, errors.New("settlement event missing created_at")
	}
	event.CreatedAt = event.CreatedAt.UTC().Truncate(time.Microsecond)
	event.Seq = prevSeq + 1
	event.PrevEventHash = prevHash

	payloadJSON, err := canon.CanonicalizeAny(event.Payload)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	event.PayloadHash = sha256Hex(payloadJSON)

	hash, err := computeEventHash(canon, event)
	if err != nil {
		return domain.SettlementEvent{}, err
	}
	event.EventHash = hash
	return event, nil
}

// VerifyEventChain replays an agreement's event history and fails on the
// first broken link: a gap, a reordered event, or a hash that no longer
// matches its content.
func VerifyEventChain(ctx context.Context, canon Canonicalizer, store SettlementStore, agreementID string) error {
	if store == nil {
		return errors.New("settlement store required")
	}
	events, err := store.ListEvents(ctx, agreementID)
	if err != nil {
		return err
	}

	expectedSeq := int64(1)
	prevHash := zeroEventHash
	for _, event := range events {
		if event.AgreementID != agreementID {
			return fmt.Errorf("event chain agreement mismatch at seq %d", event.Seq)
		}
		if event.Seq != expectedSeq {
			return fmt.Errorf("event chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("event chain prev hash mismatch at seq %d", event.Seq)
		}
		payloadJSON, err := canon.CanonicalizeAny(event.Payload)
		if err != nil {
			return fmt.Errorf("event chain payload decode failed at seq %d: %w", event.Seq, err)
		}
		if sha256Hex(payloadJSON) != event.PayloadHash {
			return fmt.Errorf("event chain payload hash mismatch at seq %d", event.Seq)
		}
		expectedHash, err := computeEventHash(canon, event)
		if err != nil {
			return fmt.Errorf("event chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if expectedHash != event.EventHash {
			return fmt.Errorf("event chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}

func computeEventHash(canon Canonicalizer, event domain.SettlementEvent) (string, error) {
	if event.PayloadHash == "" || event.PrevEventHash == "" {
		return "", errors.New("settlement event missing payload_hash or prev_event_hash")
	}
	payload := map[string]any{
		"v":               domain.EventChainVersion,
		"agreement_id":    event.AgreementID,
		"seq":             event.Seq,
		"event_type":      string(event.EventType),
		"actor_type":      string(event.ActorType),
		"payload_hash":    event.PayloadHash,
		"prev_event_hash": event.PrevEventHash,
		"created_at":      event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	canonical, err := canon.CanonicalizeAny(payload)
	if err != nil {
		return "", err
	}
	return sha256Hex(canonical), nil
}

func sha256Hex(input []byte) string {
	sum := sha256.Sum256(input)
	return hex.EncodeToString(sum[:])
}
