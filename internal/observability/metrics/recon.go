package metrics

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RPCCall records a JSON-RPC call.
func RPCCall(method string, err error) {
	if !enabled {
		return
	}
	rpcCallsTotal.WithLabelValues(method, result(err)).Inc()
}

// PollAttempt records a receipt poll attempt.
func PollAttempt(network string) {
	if !enabled {
		return
	}
	pollAttemptsTotal.WithLabelValues(network).Inc()
}

// ManifestTransition records a manifest entering status.
func ManifestTransition(network, status string) {
	if !enabled {
		return
	}
	manifestTransitionsTotal.WithLabelValues(network, status).Inc()
}

// Verdict records a bytecode reconciliation verdict.
func Verdict(verdict string) {
	if !enabled {
		return
	}
	verdictsTotal.WithLabelValues(verdict).Inc()
}

// StateCheck records a state check result.
func StateCheck(check string, passed bool) {
	if !enabled {
		return
	}
	r := "fail"
	if passed {
		r = "pass"
	}
	stateChecksTotal.WithLabelValues(check, r).Inc()
}

// Run records a reconciliation run.
func Run(success bool) {
	if !enabled {
		return
	}
	r := "fail"
	if success {
		r = "pass"
	}
	runsTotal.WithLabelValues(r).Inc()
}

// VerificationOutcome records a verification outcome.
func VerificationOutcome(outcome string) {
	if !enabled {
		return
	}
	verificationTotal.WithLabelValues(outcome).Inc()
}

// ExplorerRequest records an explorer API request.
func ExplorerRequest(action string, err error) {
	if !enabled {
		return
	}
	explorerRequestsTotal.WithLabelValues(action, result(err)).Inc()
}
