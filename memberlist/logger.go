package memberlist

import (
	"github.com/sirupsen/logrus"
)

var logger = logrus.NewEntry(logrus.StandardLogger()).WithField("prefix", "memberlist")

func SetLogger(l *logrus.Entry) {
	logger = l
}
