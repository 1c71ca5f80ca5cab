package gate

// Decision is the outcome of classifying an operation.
// The zero value is RequireGate so an unset decision fails closed.
type Decision int

const (
	RequireGate Decision = iota
	Bypass
)

func (d Decision) String() string {
	if d == Bypass {
		return "bypass"
	}
	return "require-gate"
}

// preInitOperations may run against a store that has never been sealed.
var preInitOperations = map[Operation]bool{
	OpMigrate:     true,
	OpSchema:      true,
	OpCreateAdmin: true,
	OpShell:       true,
	OpDBShell:     true,
	OpReseal:      true,
	OpSecureRun:   true,
}

// Classify decides whether op must pass through the gate.
//
// secure-run is always Bypass here: it gates itself and must not be wrapped
// twice. Otherwise an allow-listed operation bypasses the gate only while no
// EncryptedStore exists. Everything else, including OpUnknown, requires it.
func Classify(op Operation, encryptedStoreExists bool) Decision {
	if op == OpSecureRun {
		return Bypass
	}
	if !encryptedStoreExists && preInitOperations[op] {
		return Bypass
	}
	return RequireGate
}
