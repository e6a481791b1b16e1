package sandbox

import "strings"

// imagesByCommand maps an executable name to the Docker image that has it
// installed. run_in_sandbox never checks out a repository the way the
// teacher's coding-agent session did, so there is no go.mod/package.json to
// sniff: the command the caller asked to run is the only signal available,
// and it is a direct one.
var imagesByCommand = map[string]string{
	"go":      "golang:alpine",
	"gofmt":   "golang:alpine",
	"node":    "node:alpine",
	"npm":     "node:alpine",
	"npx":     "node:alpine",
	"python":  "python:alpine",
	"python3": "python:alpine",
	"pip":     "python:alpine",
	"pip3":    "python:alpine",
	"ruff":    "python:alpine",
	"pytest":  "python:alpine",
	"cargo":   "rust:alpine",
	"rustc":   "rust:alpine",
}

// GetDockerImage returns the Docker image to run command in. A
// config.DockerImage override always wins; otherwise the command's basename
// (e.g. "/usr/bin/python3" -> "python3") is looked up in imagesByCommand,
// falling back to a bare alpine image for anything unrecognized, such as
// "bash" or "sh".
func GetDockerImage(command string, config Config) string {
	if config.DockerImage != "" {
		return config.DockerImage
	}

	name := command
	if idx := strings.LastIndexByte(name, '/'); idx >= 0 {
		name = name[idx+1:]
	}

	if image, ok := imagesByCommand[name]; ok {
		return image
	}
	return "alpine:latest"
}
