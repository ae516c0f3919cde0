// Package docs registers the OpenAPI description of the canteen API with swag.
//
// The operation list is produced from the handler annotations by
// `swag init -g internal/http/router.go -o docs`; this file carries the
// document header and security scheme that the generated paths attach to.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {},
    "securityDefinitions": {
        "BearerAuth": {
            "description": "HS256 token; the sub claim is the user id.",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    },
    "tags": [
        {"name": "Menu", "description": "Menus and ordering verdicts"},
        {"name": "Orders", "description": "Self-service ordering"},
        {"name": "Account", "description": "Balance and deposits"},
        {"name": "Admin", "description": "Staff operations"}
    ]
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Canteen API",
	Description:      "Meal ordering with closing times, subsidies, quotas and prepaid balances.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
