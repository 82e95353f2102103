package dmm

import "github.com/tliron/commonlog"

var log = commonlog.GetLogger("tcvm.dmm")
