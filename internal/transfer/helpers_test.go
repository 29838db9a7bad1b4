package transfer

import logx "wristrelay/pkg/logx"

func nilLogger() logx.Logger { return logx.Nop() }
