package firmware

// SBI Extension IDs, verbatim from original_source/sbi/src/msbi.rs's
// `eid` module.
const (
	EIDConsolePutchar uint64 = 0x01
	EIDConsoleGetchar uint64 = 0x02
	EIDShutdown       uint64 = 0x08
	EIDBase           uint64 = 0x10
	EIDSRST           uint64 = 0x5352_5354
	EIDTimer          uint64 = 0x5449_4D45
)

// SBI Function IDs, verbatim from the original's `fid` module.
const (
	FIDBaseGetSBIVersion  uint64 = 0
	FIDBaseGetImplID      uint64 = 1
	FIDBaseGetImplVersion uint64 = 2
	FIDBaseProbeExtension uint64 = 3
	FIDBaseGetMvendorID   uint64 = 4
	FIDBaseGetMarchID     uint64 = 5
	FIDBaseGetMimpID      uint64 = 6

	FIDSRSTShutdown   uint64 = 0
	FIDSRSTColdReboot uint64 = 1
	FIDSRSTWarmReboot uint64 = 2
)

// SBI error codes, matching the original's `error` module.
const (
	SBISuccess      int64 = 0
	SBINotSupported int64 = -2
)

// Ret is the (error, value) pair every SBI call returns in (a0, a1), per
// spec.md §6's ABI description.
type Ret struct {
	Error int64
	Value uint64
}

func success(value uint64) Ret { return Ret{Error: SBISuccess, Value: value} }
func notSupported() Ret        { return Ret{Error: SBINotSupported} }

// Ecall dispatches one SBI call by (eid, fid), mirroring m_trap_handler's
// match over eid in the original. args holds a0..a5 as the S-mode caller
// set them (args[0] doubles as the fid-specific argument for calls that
// only take one, e.g. console_putchar's character or the timer
// extension's deadline).
func (m *Machine) Ecall(eid, fid uint64, args [6]uint64) Ret {
	switch eid {
	case EIDConsolePutchar:
		m.UART.Output(byte(args[0]))
		return success(0)
	case EIDConsoleGetchar:
		return success(uint64(m.UART.GetChar()))
	case EIDTimer:
		m.CLINT.SetTimer(args[0])
		return success(0)
	case EIDShutdown:
		m.Shutdown(ExitSuccess)
		return success(0)
	case EIDSRST:
		return m.systemReset(fid)
	case EIDBase:
		return m.base(fid)
	default:
		return notSupported()
	}
}

func (m *Machine) systemReset(fid uint64) Ret {
	if fid == FIDSRSTShutdown {
		m.Shutdown(ExitSuccess)
	} else {
		m.Shutdown(ExitReset)
	}

	return success(0)
}

func (m *Machine) base(fid uint64) Ret {
	switch fid {
	case FIDBaseGetSBIVersion:
		return success(0x0100_0000) // SBI v1.0.0
	case FIDBaseGetImplID:
		return success(0xFFFF) // Custom implementation.
	case FIDBaseGetImplVersion:
		return success(1)
	case FIDBaseProbeExtension:
		return success(1) // Every extension above is supported.
	case FIDBaseGetMvendorID, FIDBaseGetMarchID, FIDBaseGetMimpID:
		return success(0)
	default:
		return notSupported()
	}
}
