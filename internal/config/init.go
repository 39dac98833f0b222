package config

import (
	"fmt"
	"os"
)

// starterDescriptor mirrors the package-registry pipeline: a three-channel
// matrix with database setup, toolchain install, format/lint checks, build,
// test, and a frontend install/test pair on the stable entry.
const starterDescriptor = `pipeline:
  name: cargo-registry
  checkout:
    url: https://github.com/example/registry.git
    branch: master
    shallow_depth: 1

env:
  DATABASE_URL: postgres://postgres@localhost/cargo_registry
  TEST_DATABASE_URL: postgres://postgres@localhost/cargo_registry_test
  CARGO_TARGET_DIR: target
  JOBS: "2"
  PERCY_TOKEN: ${PERCY_TOKEN}
  PERCY_PROJECT: example/registry
  PERCY_BRANCH: ${PERCY_BRANCH}

cache:
  key: cargo-registry-v1
  directories:
    - target
    - .cargo
  restore_timeout: 360s

database:
  setup_command: diesel database setup
  drop_command: diesel database reset

matrix:
  - name: stable
    channel: stable
    setup:
      - rustup default stable
      - rustup component add rustfmt clippy
      - diesel database setup
      - npm install
    tests:
      - cargo fmt --all -- --check
      - cargo clippy --all-targets -- -D warnings
      - cargo build
      - cargo test
      - npm test
  - name: beta
    channel: beta
    setup:
      - rustup default beta
      - diesel database setup
    tests:
      - cargo build
      - cargo test
  - name: nightly
    channel: nightly
    allow_failure: true
    setup:
      - rustup default nightly
      - diesel database setup
    tests:
      - cargo build
      - cargo test

defaults:
  step_timeout: 30m

retry:
  backoff: linear
  initial: 1s
  max: 30s
  max_retries: 2

daemon:
  listen: ":8418"
  workers: 1
  metrics_enabled: true
  schedules:
    - name: nightly
      cron: "0 3 * * *"
`

// Init writes a starter pipeline descriptor to the given path.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}
	if err := os.WriteFile(configPath, []byte(starterDescriptor), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}
