package types

import "github.com/telcoin-network/tn-consensus-core/crypto"

// VoteDigest equals the HeaderDigest of the header being voted on — §3.
type VoteDigest = HeaderDigest

// Vote is a claim by the voting authority that all payloads and the full
// causal history of the header's certificates are available to it.
type Vote struct {
	HeaderDigest HeaderDigest
	Round        Round
	Epoch        Epoch
	Origin       AuthorityIdentifier // header.Author
	Author       AuthorityIdentifier // the voter
	Signature    *crypto.BLSSignature
}

// NewVote signs header on behalf of author using signer, producing a Vote.
func NewVote(header *Header, author AuthorityIdentifier, signer *crypto.BLSPrivateKey) *Vote {
	v := &Vote{
		HeaderDigest: header.Digest(),
		Round:        header.Round,
		Epoch:        header.Epoch,
		Origin:       header.Author,
		Author:       author,
	}
	v.Signature = signer.Sign(v.SigningMessage())
	return v
}

// SigningMessage returns the intent-tagged message this vote's signature
// covers: the intent-tagged header digest, per §3 ("signature is over the
// intent-tagged header_digest").
func (v *Vote) SigningMessage() []byte {
	return crypto.ToIntentMessage(crypto.IntentHeader, crypto.Digest(v.HeaderDigest))
}

// Digest returns the VoteDigest, which equals the HeaderDigest voted on.
func (v *Vote) Digest() VoteDigest { return v.HeaderDigest }

// VoteInfo is the persisted equivocation guard for one voter: it records
// the latest (epoch, round, vote_digest) the voter has signed, enforcing
// at most one vote per (voter, author, round, epoch) — keyed externally by
// the header's author (origin) in storage.
type VoteInfo struct {
	Epoch       Epoch
	Round       Round
	VoteDigest  VoteDigest
	HeaderOrigin AuthorityIdentifier
}

// NewVoteInfo captures the equivocation-guard record for a vote just cast.
func NewVoteInfo(v *Vote) VoteInfo {
	return VoteInfo{Epoch: v.Epoch, Round: v.Round, VoteDigest: v.Digest(), HeaderOrigin: v.Origin}
}

// Matches reports whether info already records exactly this vote (i.e. a
// repeat request for the same header, not an equivocation).
func (info VoteInfo) Matches(v *Vote) bool {
	return info.Epoch == v.Epoch && info.Round == v.Round && info.VoteDigest == v.Digest() && info.HeaderOrigin == v.Origin
}
