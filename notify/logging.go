package notify

import (
	"github.com/icco/gutil/logging"
	"github.com/icco/numduel"
)

var log = logging.Must(logging.NewLogger(numduel.ServiceName))
