// Package docs serves the API description to http-swagger and the index page.
package docs

import "github.com/swaggo/swag"

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "numduel.app",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "NumDuel API",
	Description:      "A two player number guessing duel with chess clocks",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  string(swaggerJSON),
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
