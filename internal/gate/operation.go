package gate

// Operation identifies a store-touching command requested by the CLI layer.
// The zero value is OpUnknown, which always requires the gate.
type Operation int

const (
	OpUnknown Operation = iota
	OpMigrate
	OpSchema
	OpCreateAdmin
	OpShell
	OpDBShell
	OpReseal
	OpSecureRun
	OpServe
	OpCheck
)

var operationNames = map[Operation]string{
	OpUnknown:     "unknown",
	OpMigrate:     "migrate",
	OpSchema:      "schema",
	OpCreateAdmin: "createadmin",
	OpShell:       "shell",
	OpDBShell:     "dbshell",
	OpReseal:      "reseal",
	OpSecureRun:   "secure-run",
	OpServe:       "serve",
	OpCheck:       "check",
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return "unknown"
}

// ParseOperation maps a command name to an Operation.
// Names that are empty or not recognized map to OpUnknown.
func ParseOperation(name string) Operation {
	for op, n := range operationNames {
		if op != OpUnknown && n == name {
			return op
		}
	}
	return OpUnknown
}

// selfGated reports whether the operation performs its own gate transitions
// and must never be wrapped in an Unseal/Reseal bracket.
func (op Operation) selfGated() bool {
	return op == OpReseal || op == OpSecureRun
}
