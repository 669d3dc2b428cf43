package crosschain

import (
	"encoding/json"
	"time"

	"github.com/personachain/identity-relayer/relayer/collab"
)

// ResolutionStatus is the state of a cross-chain DID resolution.
//
//	pending -> relaying -> completed | failed | timeout
type ResolutionStatus string

const (
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionRelaying  ResolutionStatus = "relaying"
	ResolutionCompleted ResolutionStatus = "completed"
	ResolutionFailed    ResolutionStatus = "failed"
	ResolutionTimeout   ResolutionStatus = "timeout"
)

func (s ResolutionStatus) Terminal() bool {
	return s == ResolutionCompleted || s == ResolutionFailed || s == ResolutionTimeout
}

// AttestationStatus is the state of a cross-chain credential attestation.
//
//	pending -> relaying -> verified | rejected | timeout
type AttestationStatus string

const (
	AttestationPending  AttestationStatus = "pending"
	AttestationRelaying AttestationStatus = "relaying"
	AttestationVerified AttestationStatus = "verified"
	AttestationRejected AttestationStatus = "rejected"
	AttestationTimeout  AttestationStatus = "timeout"
)

func (s AttestationStatus) Terminal() bool {
	return s == AttestationVerified || s == AttestationRejected || s == AttestationTimeout
}

// RegistrationStatus is the state of an identity registration on one target chain.
type RegistrationStatus string

const (
	RegistrationPending   RegistrationStatus = "pending"
	RegistrationCompleted RegistrationStatus = "completed"
	RegistrationFailed    RegistrationStatus = "failed"
)

func (s RegistrationStatus) Terminal() bool {
	return s == RegistrationCompleted || s == RegistrationFailed
}

// DIDResolution tracks the resolution of a DID on another chain.
type DIDResolution struct {
	RequestID        string           `json:"requestId"`
	DID              string           `json:"did"`
	SourceChain      string           `json:"sourceChain"`
	TargetChain      string           `json:"targetChain"`
	ChannelID        string           `json:"channelId"`
	PacketKey        string           `json:"packetKey,omitempty"`
	RelayerID        string           `json:"relayerId,omitempty"`
	Status           ResolutionStatus `json:"status"`
	ResolvedDocument json.RawMessage  `json:"resolvedDocument,omitempty"`
	Error            string           `json:"error,omitempty"`
	RequestedAt      time.Time        `json:"requestedAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
	ExpiresAt        time.Time        `json:"expiresAt"`
	CompletedAt      *time.Time       `json:"completedAt,omitempty"`
}

// VerificationResult summarizes how an attested credential was checked.
type VerificationResult struct {
	IsValid       bool      `json:"isValid"`
	CheckedFields []string  `json:"checkedFields"`
	Verifier      string    `json:"verifier"`
	VerifiedAt    time.Time `json:"verifiedAt"`
	Reason        string    `json:"reason,omitempty"`
}

// CredentialAttestation tracks the attestation of a credential on a verifier chain.
type CredentialAttestation struct {
	AttestationID      string              `json:"attestationId"`
	IssuerChain        string              `json:"issuerChain"`
	VerifierChain      string              `json:"verifierChain"`
	ChannelID          string              `json:"channelId"`
	PacketKey          string              `json:"packetKey,omitempty"`
	RelayerID          string              `json:"relayerId,omitempty"`
	Credential         json.RawMessage     `json:"credential"`
	ZKProof            *collab.Proof       `json:"zkProof,omitempty"`
	Status             AttestationStatus   `json:"status"`
	VerificationResult *VerificationResult `json:"verificationResult,omitempty"`
	Error              string              `json:"error,omitempty"`
	RequestedAt        time.Time           `json:"requestedAt"`
	UpdatedAt          time.Time           `json:"updatedAt"`
	ExpiresAt          time.Time           `json:"expiresAt"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
}

// ZKVerificationResult is returned by a cross-chain proof verification.
type ZKVerificationResult struct {
	VerificationID string    `json:"verificationId"`
	IsValid        bool      `json:"isValid"`
	VerifiedAt     time.Time `json:"verifiedAt"`
	RelayedVia     string    `json:"relayedVia"`
}

// IdentityRegistration tracks the registration of a DID on one target chain.
type IdentityRegistration struct {
	RegistrationID string             `json:"registrationId"`
	DID            string             `json:"did"`
	SourceChain    string             `json:"sourceChain"`
	TargetChain    string             `json:"targetChain"`
	ChannelID      string             `json:"channelId"`
	PacketKey      string             `json:"packetKey,omitempty"`
	Status         RegistrationStatus `json:"status"`
	Error          string             `json:"error,omitempty"`
	RequestedAt    time.Time          `json:"requestedAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Statistics is a point in time snapshot of the service.
type Statistics struct {
	Channels             ChannelStatistics   `json:"channels"`
	Relayers             RelayerStatistics   `json:"relayers"`
	Packets              PacketStatistics    `json:"packets"`
	CrossChainOperations OperationStatistics `json:"crossChainOperations"`
}

type ChannelStatistics struct {
	Total   int `json:"total"`
	Open    int `json:"open"`
	Pending int `json:"pending"`
}

type RelayerStatistics struct {
	Total          int     `json:"total"`
	Active         int     `json:"active"`
	AvgReliability float64 `json:"avgReliability"`
}

type PacketStatistics struct {
	Pending   int `json:"pending"`
	TotalSent int `json:"totalSent"`
}

type OperationStatistics struct {
	DIDResolutions         int `json:"didResolutions"`
	CredentialAttestations int `json:"credentialAttestations"`
	IdentityRegistrations  int `json:"identityRegistrations"`
	ActiveResolutions      int `json:"activeResolutions"`
	ActiveAttestations     int `json:"activeAttestations"`
	ActiveRegistrations    int `json:"activeRegistrations"`
}
