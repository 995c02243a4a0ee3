// Loads and validates build configuration.
//
// A [Config] describes one editable-install build: the pinned base image,
// the working directory, how the package installer is brought up to date,
// which parts of the build context are staged, and the timeouts and retry
// policy for the network-bound steps. Configuration is layered: [Default]
// values are overlaid by the user file ($XDG_CONFIG_HOME/devimg/config.yaml),
// then by devimg.yaml in the build context, then by command-line flags.
//
// Example devimg.yaml:
//
//	base: python:3.11-slim
//	workdir: /app
//	installer:
//	  mode: pinned
//	  version: "24.2"
//	source:
//	  exclude: [".git", ".venv", "**/__pycache__"]
package config
