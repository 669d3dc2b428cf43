package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/personachain/identity-relayer/helpers"
	"github.com/personachain/identity-relayer/relayer"
	"github.com/personachain/identity-relayer/relayer/collab"
	"github.com/personachain/identity-relayer/relayer/crosschain"
	"go.uber.org/zap"
)

type resolutionRequest struct {
	DID         string `json:"did"`
	SourceChain string `json:"sourceChain"`
	TargetChain string `json:"targetChain"`
}

type attestationRequest struct {
	Credential     json.RawMessage `json:"credential"`
	IssuerChain    string          `json:"issuerChain"`
	VerifierChain  string          `json:"verifierChain"`
	IncludeZKProof bool            `json:"includeZKProof"`
}

type proofVerificationRequest struct {
	Proof         collab.Proof `json:"proof"`
	PublicSignals []string     `json:"publicSignals"`
	ProofType     string       `json:"proofType"`
	SourceChain   string       `json:"sourceChain"`
	VerifierChain string       `json:"verifierChain"`
}

type registrationRequest struct {
	DID          string          `json:"did"`
	DIDDocument  json.RawMessage `json:"didDocument"`
	SourceChain  string          `json:"sourceChain"`
	TargetChains []string        `json:"targetChains"`
}

// NOTE: there is no hardening of this API. It is meant to be run in a secure environment and
// accessed via private networking
func newAPIRouter(log *zap.Logger, n *node) *mux.Router {
	log = log.With(zap.String("sys", "api"))
	r := mux.NewRouter()

	// STATS
	r.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		helpers.SuccessJSONResponse(http.StatusOK, n.service.GetIBCStatistics(), w)
	}).Methods("GET")

	// RESOLUTIONS
	r.HandleFunc("/resolutions", func(w http.ResponseWriter, req *http.Request) {
		var body resolutionRequest
		if err := helpers.DecodeJSONBody(req, &body); err != nil {
			helpers.WriteError(err, w)
			return
		}
		rec, err := n.service.ResolveDIDCrossChain(req.Context(), body.DID, body.SourceChain, body.TargetChain)
		if err != nil {
			writeOperationError(log, "did_resolution", err, w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusAccepted, rec, w)
	}).Methods("POST")
	r.HandleFunc("/resolutions/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		rec, ok := n.service.GetDIDResolutionStatus(id)
		if !ok {
			helpers.WriteError(errRequestNotFound(id), w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusOK, rec, w)
	}).Methods("GET")

	// ATTESTATIONS
	r.HandleFunc("/attestations", func(w http.ResponseWriter, req *http.Request) {
		var body attestationRequest
		if err := helpers.DecodeJSONBody(req, &body); err != nil {
			helpers.WriteError(err, w)
			return
		}
		rec, err := n.service.AttestCredentialCrossChain(req.Context(), body.Credential, body.IssuerChain, body.VerifierChain, body.IncludeZKProof)
		if err != nil {
			writeOperationError(log, "credential_attestation", err, w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusAccepted, rec, w)
	}).Methods("POST")
	r.HandleFunc("/attestations/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		rec, ok := n.service.GetCredentialAttestationStatus(id)
		if !ok {
			helpers.WriteError(errRequestNotFound(id), w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusOK, rec, w)
	}).Methods("GET")

	// PROOFS
	r.HandleFunc("/proofs/verify", func(w http.ResponseWriter, req *http.Request) {
		var body proofVerificationRequest
		if err := helpers.DecodeJSONBody(req, &body); err != nil {
			helpers.WriteError(err, w)
			return
		}
		res, err := n.service.VerifyZKProofCrossChain(req.Context(), body.Proof, body.PublicSignals, body.ProofType, body.SourceChain, body.VerifierChain)
		if err != nil {
			writeOperationError(log, "zk_proof_verification", err, w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusOK, res, w)
	}).Methods("POST")

	// REGISTRATIONS
	r.HandleFunc("/registrations", func(w http.ResponseWriter, req *http.Request) {
		var body registrationRequest
		if err := helpers.DecodeJSONBody(req, &body); err != nil {
			helpers.WriteError(err, w)
			return
		}
		if len(body.TargetChains) == 0 {
			helpers.WriteError(helpers.ErrMissingParam("targetChains"), w)
			return
		}
		recs, err := n.service.RegisterIdentityCrossChain(req.Context(), body.DID, body.DIDDocument, body.SourceChain, body.TargetChains)
		if err != nil {
			writeOperationError(log, "identity_registration", err, w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusAccepted, recs, w)
	}).Methods("POST")
	r.HandleFunc("/registrations/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		rec, ok := n.service.GetRegistrationStatus(id)
		if !ok {
			helpers.WriteError(errRequestNotFound(id), w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusOK, rec, w)
	}).Methods("GET")

	// RELAYERS
	r.HandleFunc("/relayers", func(w http.ResponseWriter, _ *http.Request) {
		helpers.SuccessJSONResponse(http.StatusOK, withScores(n.relayers.GetAllRelayers()), w)
	}).Methods("GET")
	r.HandleFunc("/relayers/{id}", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		rl, ok := n.relayers.GetRelayer(id)
		if !ok {
			helpers.WriteError(fmt.Errorf("%w: %s", relayer.ErrRelayerNotFound, id), w)
			return
		}
		helpers.SuccessJSONResponse(http.StatusOK, relayerOutput{Relayer: rl, Score: relayer.Score(rl)}, w)
	}).Methods("GET")

	// CHANNELS
	r.HandleFunc("/channels", func(w http.ResponseWriter, _ *http.Request) {
		helpers.SuccessJSONResponse(http.StatusOK, n.channels.GetAllChannels(), w)
	}).Methods("GET")
	r.HandleFunc("/channels/{id}/packets", func(w http.ResponseWriter, req *http.Request) {
		id := mux.Vars(req)["id"]
		if _, ok := n.channels.GetChannel(id); !ok {
			helpers.WriteError(fmt.Errorf("%w: %s", relayer.ErrChannelNotFound, id), w)
			return
		}
		limit, err := helpers.ParseLimitParam(req, 0)
		if err != nil {
			helpers.WriteError(err, w)
			return
		}
		history := n.router.GetPacketHistory(id)
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}
		helpers.SuccessJSONResponse(http.StatusOK, history, w)
	}).Methods("GET")

	// PACKETS
	r.HandleFunc("/packets/pending", func(w http.ResponseWriter, _ *http.Request) {
		helpers.SuccessJSONResponse(http.StatusOK, n.router.GetPendingPackets(), w)
	}).Methods("GET")

	return r
}

func errRequestNotFound(id string) error {
	return fmt.Errorf("%w: %s", crosschain.ErrRequestNotFound, id)
}

// writeOperationError logs failures that are not the caller's fault before writing them.
func writeOperationError(log *zap.Logger, operation string, err error, w http.ResponseWriter) {
	status := helpers.StatusCode(err)
	if status >= http.StatusInternalServerError {
		log.Warn("Cross-chain operation failed", zap.String("operation", operation), zap.Int("status", status), zap.Error(err))
	}
	helpers.WriteErrorResponse(status, err, w)
}
