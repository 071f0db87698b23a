package services

import "github.com/google/uuid"

// FeePolicy computes the fee charged to the sender on top of the transferred
// amount. Fees are credited to the policy's sink account.
type FeePolicy interface {
	Fee(senderID, receiverID uuid.UUID, amount int64) int64
	Sink() uuid.UUID
}

type ZeroFee struct{}

func (ZeroFee) Fee(uuid.UUID, uuid.UUID, int64) int64 { return 0 }

func (ZeroFee) Sink() uuid.UUID { return uuid.Nil }

// FlatFee charges a constant per transfer and pays it to SinkID.
type FlatFee struct {
	Amount int64
	SinkID uuid.UUID
}

func (f FlatFee) Fee(uuid.UUID, uuid.UUID, int64) int64 { return f.Amount }

func (f FlatFee) Sink() uuid.UUID { return f.SinkID }
