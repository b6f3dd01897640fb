package appfs

import "embed"

//go:embed migrations/*.sql templates/email/* assets/*
var FS embed.FS
