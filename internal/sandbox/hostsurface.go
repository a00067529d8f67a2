package sandbox

import (
	"context"

	"github.com/dop251/goja"

	"github.com/tos-network/gtos-faas/internal/hostcall"
	"github.com/tos-network/gtos-faas/internal/registry"
)

// installHostSurface installs the permission-gated global functions a
// function's code may call: `oracle.getPrice`, `oracle.getRandom`,
// `tee.attest`, `fhe.compute`, `zk.prove`/`zk.verify`, `gas.balance`, and
// `log.info`/`log.warn`/`log.error`. A call outside the effective
// permission set throws a catchable JS exception (hostcall.ErrPermissionDenied)
// rather than panicking the host process, per spec.md §4.4 step 2 and the
// SandboxViolation error family in §7.
func installHostSurface(vm *goja.Runtime, surface hostcall.Surface, perms registry.Permissions, gasQuery func(string) (uint64, error), principal string) {
	ctx := context.Background()

	logObj := vm.NewObject()
	logObj.Set("info", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	logObj.Set("warn", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	logObj.Set("error", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })
	vm.Set("log", logObj)

	oracleObj := vm.NewObject()
	oracleObj.Set("getPrice", func(call goja.FunctionCall) goja.Value {
		if !perms.Oracle {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.Oracle == nil {
			panic(vm.ToValue("hostcall: no oracle client wired"))
		}
		assetPair := call.Argument(0).String()
		price, err := surface.Oracle.GetPrice(ctx, assetPair)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(price)
	})
	oracleObj.Set("getRandom", func(call goja.FunctionCall) goja.Value {
		if !perms.Oracle {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.Oracle == nil {
			panic(vm.ToValue("hostcall: no oracle client wired"))
		}
		seed := call.Argument(0).String()
		b, err := surface.Oracle.GetRandom(ctx, seed)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(b)
	})
	vm.Set("oracle", oracleObj)

	teeObj := vm.NewObject()
	teeObj.Set("attest", func(call goja.FunctionCall) goja.Value {
		if !perms.TEE {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.TEE == nil {
			panic(vm.ToValue("hostcall: no tee client wired"))
		}
		payload := []byte(call.Argument(0).String())
		out, err := surface.TEE.Attest(ctx, payload)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(out)
	})
	vm.Set("tee", teeObj)

	fheObj := vm.NewObject()
	fheObj.Set("compute", func(call goja.FunctionCall) goja.Value {
		if !perms.FHE {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.FHE == nil {
			panic(vm.ToValue("hostcall: no fhe client wired"))
		}
		op := call.Argument(0).String()
		ciphertexts := [][]byte{[]byte(call.Argument(1).String())}
		out, err := surface.FHE.Compute(ctx, op, ciphertexts)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(out)
	})
	vm.Set("fhe", fheObj)

	zkObj := vm.NewObject()
	zkObj.Set("prove", func(call goja.FunctionCall) goja.Value {
		if !perms.ZK {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.ZK == nil {
			panic(vm.ToValue("hostcall: no zk client wired"))
		}
		circuit := call.Argument(0).String()
		witness := []byte(call.Argument(1).String())
		proof, err := surface.ZK.Prove(ctx, circuit, witness)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(proof)
	})
	zkObj.Set("verify", func(call goja.FunctionCall) goja.Value {
		if !perms.ZK {
			panic(vm.ToValue(hostcall.ErrPermissionDenied.Error()))
		}
		if surface.ZK == nil {
			panic(vm.ToValue("hostcall: no zk client wired"))
		}
		circuit := call.Argument(0).String()
		proof := []byte(call.Argument(1).String())
		ok, err := surface.ZK.Verify(ctx, circuit, proof)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(ok)
	})
	vm.Set("zk", zkObj)

	gasObj := vm.NewObject()
	gasObj.Set("balance", func(call goja.FunctionCall) goja.Value {
		if gasQuery == nil {
			return vm.ToValue(0)
		}
		bal, err := gasQuery(principal)
		if err != nil {
			panic(vm.ToValue(err.Error()))
		}
		return vm.ToValue(bal)
	})
	vm.Set("gas", gasObj)
}
