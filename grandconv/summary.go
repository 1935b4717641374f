package main

// RunSummary stores the run summary information written with -json.
type RunSummary struct {
	// Version stores grandconv version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// NThreads is the number of processes used.
	NThreads int `json:"nThreads"`
	// Backend is the backend the kernel ran on (cpu, cuda or metal).
	Backend string `json:"backend,omitempty"`
	// Device is the device name reported by the backend.
	Device string `json:"device,omitempty"`
	// Precision is the kernel floating-point width (double or single).
	Precision string `json:"precision,omitempty"`
	// NumBranchPairs is the number of enumerated independent pairs.
	NumBranchPairs int `json:"numBranchPairs"`
	// NumSelected is the number of pairs with per-site output.
	NumSelected int `json:"numSelectedBranchPairs"`
	// NumSites is the number of alignment sites.
	NumSites int `json:"numSites"`
	// NStates is the state-space size.
	NStates int `json:"nStates"`
	// RegressionSlope and RegressionIntercept describe the fitted null
	// relation pConvergent ≈ k*pDivergent + b.
	RegressionSlope     float64 `json:"regressionSlope"`
	RegressionIntercept float64 `json:"regressionIntercept"`
	// CheckpointUsed is true when kernel results were reused from the
	// bundle instead of being recomputed.
	CheckpointUsed bool `json:"checkpointUsed,omitempty"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}
