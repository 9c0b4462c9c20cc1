package main

import "os"

func main() {
	rootCmd.AddCommand(reportsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
