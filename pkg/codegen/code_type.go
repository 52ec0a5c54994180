package codegen

// CodeType distinguishes the two procedures a contract compiles into.
type CodeType int

const (
	// CodeTypeUndefined is the zero value before a wrapper selects a
	// procedure.
	CodeTypeUndefined CodeType = iota
	// CodeTypeDeploy is the constructor procedure.
	CodeTypeDeploy
	// CodeTypeRuntime is the selector procedure.
	CodeTypeRuntime
)

func (codeType CodeType) String() string {
	switch codeType {
	case CodeTypeDeploy:
		return "deploy"
	case CodeTypeRuntime:
		return "runtime"
	}
	return "undefined"
}
