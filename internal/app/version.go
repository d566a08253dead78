package app

// Version is set at build time.
var Version = "dev"
