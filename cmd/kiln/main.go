// Command kiln runs incremental builds from TOML operation descriptions.
package main

import "github.com/papapumpkin/kiln/cmd"

func main() {
	cmd.Execute()
}
