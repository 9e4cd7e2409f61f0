package autochecks

import "context"

// RunAll runs every check against t and reports each through report.
// It returns false if any check failed.
func RunAll(ctx context.Context, t Target, report func(name string, err error) bool) bool {
	ok := report("File operations", CheckFileOps(ctx, t))
	ok = report("Large write", CheckLargeWrite(ctx, t)) && ok
	ok = report("Concurrent transfers", CheckConcurrentTransfers(ctx, t)) && ok
	return ok
}
