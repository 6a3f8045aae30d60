package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/getkin/kin-openapi/openapi3"

	"deepreef/internal/api"
)

func main() {
	specPath := flag.String("spec", "", "path to an OpenAPI document (yaml/json); defaults to the one served by the API")
	flag.Parse()

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	var (
		doc *openapi3.T
		err error
	)
	if *specPath == "" {
		doc, err = loader.LoadFromData(api.OpenAPISpec())
	} else {
		doc, err = loader.LoadFromFile(*specPath)
	}
	if err != nil {
		log.Fatalf("load spec: %v", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		log.Fatalf("validate spec: %v", err)
	}

	fmt.Printf("ok (%d paths)\n", doc.Paths.Len())
}
