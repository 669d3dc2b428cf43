// Package cmd Identity Relayer Rest Server.
//
// A REST interface for cross-chain identity operations and relayer state.
//
//     Schemes: http
//	   Basepath: /
//     Version: 1.0.0
//     Host: localhost:5183
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//
// swagger:meta
package cmd

import (
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/crosschain"
)

// swagger:route GET /stats Stats stats
// Get channel, relayer, packet and operation statistics.
// responses:
//   200: statsResponse

// swagger:response statsResponse
type statsResWrapper struct {
	// in:body
	Stats crosschain.Statistics
}

// swagger:route POST /resolutions Resolutions resolveDID
// Resolve a DID on a target chain.
// responses:
//   202: resolutionResponse
//   400: errorResponse
//   422: errorResponse
//   502: errorResponse

// swagger:parameters resolveDID
type resolveDIDParamsWrapper struct {
	// in:body
	Body resolutionRequest
}

// swagger:route GET /resolutions/{id} Resolutions resolutionStatus
// Get a DID resolution by request id.
// responses:
//   200: resolutionResponse
//   404: errorResponse

// swagger:response resolutionResponse
type resolutionResWrapper struct {
	// in:body
	Resolution crosschain.DIDResolution
}

// swagger:route POST /attestations Attestations attestCredential
// Attest a credential on a verifier chain.
// responses:
//   202: attestationResponse
//   400: errorResponse
//   422: errorResponse
//   502: errorResponse

// swagger:parameters attestCredential
type attestCredentialParamsWrapper struct {
	// in:body
	Body attestationRequest
}

// swagger:route GET /attestations/{id} Attestations attestationStatus
// Get a credential attestation by id.
// responses:
//   200: attestationResponse
//   404: errorResponse

// swagger:response attestationResponse
type attestationResWrapper struct {
	// in:body
	Attestation crosschain.CredentialAttestation
}

// swagger:route POST /proofs/verify Proofs verifyProof
// Relay a proof to a verifier chain and verify it.
// responses:
//   200: proofVerificationResponse
//   400: errorResponse
//   422: errorResponse
//   502: errorResponse

// swagger:parameters verifyProof
type verifyProofParamsWrapper struct {
	// in:body
	Body proofVerificationRequest
}

// swagger:response proofVerificationResponse
type proofVerificationResWrapper struct {
	// in:body
	Result crosschain.ZKVerificationResult
}

// swagger:route POST /registrations Registrations registerIdentity
// Register a DID document on target chains.
// responses:
//   202: registrationsResponse
//   400: errorResponse
//   422: errorResponse

// swagger:parameters registerIdentity
type registerIdentityParamsWrapper struct {
	// in:body
	Body registrationRequest
}

// swagger:response registrationsResponse
type registrationsResWrapper struct {
	// in:body
	Registrations []crosschain.IdentityRegistration
}

// swagger:route GET /relayers Relayers relayers
// List relayers with their selection score.
// responses:
//   200: relayersResponse

// swagger:response relayersResponse
type relayersResWrapper struct {
	// in:body
	Relayers []relayerOutput
}

// swagger:route GET /channels Channels channels
// List channels.
// responses:
//   200: channelsResponse

// swagger:response channelsResponse
type channelsResWrapper struct {
	// in:body
	Channels []relayer.Channel
}

// swagger:response errorResponse
type errorResWrapper struct {
	// in:body
	Body struct {
		Err string `json:"err"`
	}
}
