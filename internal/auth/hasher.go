package auth

import "golang.org/x/crypto/bcrypt"

type Hasher interface {
	Hash(secret []byte) ([]byte, error)
	Compare(hash, secret []byte) error
}

// BcryptHasher hashes with a tunable cost. Out-of-range costs are clamped.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) cost() int {
	switch {
	case h.Cost < bcrypt.MinCost:
		return bcrypt.MinCost
	case h.Cost > bcrypt.MaxCost:
		return bcrypt.MaxCost
	default:
		return h.Cost
	}
}

func (h BcryptHasher) Hash(secret []byte) ([]byte, error) {
	return bcrypt.GenerateFromPassword(secret, h.cost())
}

func (h BcryptHasher) Compare(hash, secret []byte) error {
	return bcrypt.CompareHashAndPassword(hash, secret)
}
