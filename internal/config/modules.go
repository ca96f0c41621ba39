package config

import (
	_ "github.com/any-hub/modhost/internal/module/listing"
	_ "github.com/any-hub/modhost/internal/module/static"
)
