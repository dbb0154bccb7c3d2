package numduel

import (
	"github.com/icco/gutil/logging"
)

// ServiceName is the name of this service.
const ServiceName = "numduel"

var (
	log = logging.Must(logging.NewLogger(ServiceName))
)
