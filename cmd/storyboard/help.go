// ABOUTME: Usage text for the storyboard CLI.
package main

import (
	"fmt"
	"io"
)

// printHelp writes the full usage text.
func printHelp(w io.Writer, version string) {
	fmt.Fprintf(w, `storyboard %s - narrative text to illustrated panel layouts

Usage:
  storyboard [flags] <story.md>     run a story from a markdown file
  storyboard [flags] -              run a story from stdin
  storyboard -serve [flags]         start the HTTP API server
  storyboard -validate [flags]      check config and layout templates

Flags:
  -serve             start the HTTP API server
  -tui               run with the interactive terminal UI
  -validate          check config and layout templates, then exit
  -config PATH       YAML config file (default: storyboard.yaml)
  -db PATH           SQLite database path (overrides config)
  -bind ADDR         server listen address (overrides config)
  -style TEXT        visual style for the story
  -max-scenes N      maximum scenes to split the story into
  -images            render panel images
  -version           print version and exit

Environment:
  OPENAI_API_KEY           generative API key (or models.api_key in config)
  STORYBOARD_DB            database path override
  STORYBOARD_BIND          server address override
  STORYBOARD_TEXT_MODEL    text model override
  STORYBOARD_IMAGE_MODEL   image model override
  STORYBOARD_RENDER_IMAGES set to true/1/yes to render images

A .env file in the working directory is loaded at startup without
overriding existing environment variables.
`, version)
}
