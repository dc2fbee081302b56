package ftpd

import (
	"bufio"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/cardhost/internal/models"
	"github.com/The-Promised-Neverland/cardhost/internal/transfer"
	"github.com/The-Promised-Neverland/cardhost/pkg/logger"
)

const (
	formatFile  = "_format"
	hformatFile = "_hformat"
)

type command struct {
	fn func(s *session, arg string)
	// open commands are accepted before login
	open bool
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"USER": {fn: (*session).handleUSER, open: true},
		"PASS": {fn: (*session).handlePASS, open: true},
		"SYST": {fn: (*session).handleSYST, open: true},
		"FEAT": {fn: (*session).handleFEAT, open: true},
		"NOOP": {fn: (*session).handleNOOP, open: true},
		"QUIT": {fn: (*session).handleQUIT, open: true},
		"OPTS": {fn: (*session).handleOPTS, open: true},
		"PWD":  {fn: (*session).handlePWD},
		"XPWD": {fn: (*session).handlePWD},
		"CWD":  {fn: (*session).handleCWD},
		"CDUP": {fn: (*session).handleCDUP},
		"TYPE": {fn: (*session).handleTYPE},
		"MODE": {fn: (*session).handleMODE},
		"STRU": {fn: (*session).handleSTRU},
		"PASV": {fn: (*session).handlePASV},
		"EPSV": {fn: (*session).handleEPSV},
		"PORT": {fn: (*session).handlePORT},
		"LIST": {fn: (*session).handleLIST},
		"NLST": {fn: (*session).handleNLST},
		"RETR": {fn: (*session).handleRETR},
		"STOR": {fn: (*session).handleSTOR},
		"APPE": {fn: (*session).handleAPPE},
		"DELE": {fn: (*session).handleDELE},
		"MKD":  {fn: (*session).handleMKD},
		"XMKD": {fn: (*session).handleMKD},
		"RMD":  {fn: (*session).handleRMD},
		"XRMD": {fn: (*session).handleRMD},
		"RNFR": {fn: (*session).handleRNFR},
		"RNTO": {fn: (*session).handleRNTO},
		"SIZE": {fn: (*session).handleSIZE},
		"MDTM": {fn: (*session).handleMDTM},
	}
}

func (s *session) dispatch(verb, arg string) {
	cmd, ok := commands[verb]
	if !ok {
		s.reply(502, "Command %s not implemented", verb)
		return
	}
	if !cmd.open && !s.loggedIn {
		s.reply(530, "Please login with USER and PASS")
		return
	}
	cmd.fn(s, arg)
	if verb != "RNFR" {
		s.renameFrom = ""
	}
}

func (s *session) handleUSER(arg string) {
	s.user = arg
	s.loggedIn = false
	s.reply(331, "User %s OK, password required", arg)
}

func (s *session) handlePASS(arg string) {
	opts := s.srv.opts
	if opts.User != "" && (s.user != opts.User || arg != opts.Password) {
		logger.Log.Warn("FTP login failed", "remote", s.remote, "user", s.user)
		s.reply(530, "Login incorrect")
		return
	}
	s.loggedIn = true
	s.reply(230, "User logged in")
}

func (s *session) handleSYST(string) { s.reply(215, "UNIX Type: L8") }

func (s *session) handleFEAT(string) {
	s.replyLines(211, "Features:", []string{"SIZE", "MDTM", "PASV", "EPSV", "UTF8"}, "End")
}

func (s *session) handleNOOP(string) { s.reply(200, "OK") }

func (s *session) handleQUIT(string) {
	s.quit = true
	s.reply(221, "Goodbye")
}

func (s *session) handleOPTS(arg string) {
	if strings.EqualFold(arg, "UTF8 ON") {
		s.reply(200, "UTF8 enabled")
		return
	}
	s.reply(501, "Option not supported")
}

func (s *session) handlePWD(string) {
	s.reply(257, "%q is the current directory", s.task.Getwd())
}

func (s *session) handleCWD(arg string) {
	if err := s.task.Chdir(arg); err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(250, "Directory changed to %s", s.task.Getwd())
}

func (s *session) handleCDUP(string) { s.handleCWD("..") }

func (s *session) handleTYPE(arg string) {
	switch strings.ToUpper(arg) {
	case "I", "L 8":
		s.reply(200, "Type set to I")
	case "A", "A N":
		// data is always sent unconverted
		s.reply(200, "Type set to A")
	default:
		s.reply(504, "Type %s not supported", arg)
	}
}

func (s *session) handleMODE(arg string) {
	if strings.EqualFold(arg, "S") {
		s.reply(200, "Mode set to S")
		return
	}
	s.reply(504, "Only stream mode is supported")
}

func (s *session) handleSTRU(arg string) {
	if strings.EqualFold(arg, "F") {
		s.reply(200, "Structure set to F")
		return
	}
	s.reply(504, "Only file structure is supported")
}

func (s *session) handlePASV(string) {
	local := s.conn.LocalAddr().(*net.TCPAddr).IP
	ip := s.srv.passiveIP(local).To4()
	if ip == nil {
		s.reply(425, "Passive mode needs IPv4, use EPSV")
		return
	}
	port, ok := s.preparePassive(local)
	if !ok {
		return
	}
	s.reply(227, "%s", formatPasv(ip, port))
}

func (s *session) handleEPSV(arg string) {
	if strings.EqualFold(arg, "ALL") {
		s.reply(200, "EPSV ALL ok")
		return
	}
	port, ok := s.preparePassive(s.conn.LocalAddr().(*net.TCPAddr).IP)
	if !ok {
		return
	}
	s.reply(229, "Entering Extended Passive Mode (|||%d|)", port)
}

func (s *session) preparePassive(local net.IP) (int, bool) {
	s.resetData()
	ln, err := listenPassive(local, s.srv.opts.PasvMin, s.srv.opts.PasvMax)
	if err != nil {
		logger.Log.Error("Passive listen failed", "remote", s.remote, "err", err)
		s.reply(425, "Cannot open passive connection")
		return 0, false
	}
	s.pasv = ln
	return ln.Addr().(*net.TCPAddr).Port, true
}

func (s *session) handlePORT(arg string) {
	addr, err := parsePortArg(arg)
	if err != nil {
		s.reply(501, "%v", err)
		return
	}
	host, _, _ := net.SplitHostPort(addr)
	if !s.fromPeer(net.ParseIP(host)) {
		logger.Log.Warn("Refused PORT to third-party host", "remote", s.remote, "target", addr)
		s.reply(504, "%v", errForeignPeer)
		return
	}
	s.resetData()
	s.activeAddr = addr
	s.reply(200, "PORT command successful")
}

// listTarget strips ls-style flags from a LIST or NLST argument.
func listTarget(arg string) string {
	var rest []string
	for _, f := range strings.Fields(arg) {
		if !strings.HasPrefix(f, "-") {
			rest = append(rest, f)
		}
	}
	return strings.Join(rest, " ")
}

func (s *session) handleLIST(arg string) { s.list(listTarget(arg), true) }

func (s *session) handleNLST(arg string) { s.list(listTarget(arg), false) }

func (s *session) list(dir string, long bool) {
	if dir == "" {
		dir = "."
	}
	var lines []string
	now := time.Now()
	fi, err := s.task.Stat(dir)
	if err != nil {
		s.resetData()
		s.replyErr(550, dir, err)
		return
	}
	infos := []fs.FileInfo{fi}
	if fi.IsDir() {
		entries, err := s.task.ReadDir(dir)
		if err != nil {
			s.resetData()
			s.replyErr(550, dir, err)
			return
		}
		infos = listEntries(entries)
	}
	for _, e := range infos {
		if long {
			lines = append(lines, formatEntry(e, now))
		} else {
			lines = append(lines, e.Name())
		}
	}

	conn, ok := s.dataConn()
	if !ok {
		return
	}
	defer conn.Close()
	if s.srv.opts.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.srv.opts.WriteTimeout * time.Duration(1+len(lines)/64)))
	}
	bw := bufio.NewWriter(conn)
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteString("\r\n")
	}
	if err := bw.Flush(); err != nil {
		logger.Log.Warn("Directory listing failed", "remote", s.remote, "dir", s.task.Abs(dir), "err", err)
		s.reply(426, "Connection closed; transfer aborted")
		return
	}
	s.reply(226, "Transfer complete")
}

// dataConn announces and opens the data connection.
func (s *session) dataConn() (net.Conn, bool) {
	s.reply(150, "Opening data connection")
	conn, err := s.openData()
	if err != nil {
		logger.Log.Warn("Data connection failed", "remote", s.remote, "err", err)
		s.reply(425, "Cannot open data connection")
		return nil, false
	}
	return conn, true
}

func (s *session) handleRETR(arg string) {
	if arg == "" {
		s.reply(501, "Missing file name")
		return
	}
	name := s.task.Abs(arg)
	if path.Base(name) == formatFile {
		s.resetData()
		if err := s.srv.vol.Format(); err != nil {
			logger.Log.Error("Volume format failed", "remote", s.remote, "err", err)
		} else {
			logger.Log.Warn("Volume formatted by FTP client", "remote", s.remote)
		}
		s.reply(550, "%s: volume formatted", formatFile)
		return
	}

	f, err := s.task.Open(arg)
	if err != nil {
		s.resetData()
		s.replyErr(550, arg, err)
		return
	}
	defer f.Close()
	if fi, err := f.Stat(); err != nil || fi.IsDir() {
		s.resetData()
		s.reply(550, "%s: not a plain file", arg)
		return
	}
	store, err := transfer.NewFileStore(f)
	if err != nil {
		s.resetData()
		s.replyErr(550, arg, err)
		return
	}

	conn, ok := s.dataConn()
	if !ok {
		return
	}
	defer conn.Close()

	sess, release, err := s.srv.pool.Session(s.srv.opts.Transfer)
	if err != nil {
		s.reply(451, "Local error: %v", err)
		return
	}
	defer release()

	tr := s.srv.svc.Track(models.ProtocolFTP, transfer.DirStoreToStream, name)
	sess.OnChunk = tr.OnChunk
	res, err := sess.StoreToStream(store, transfer.NewConnStream(conn, s.srv.opts.WriteTimeout))
	conn.Close()
	tr.Finish(res, err)
	s.finishTransfer(name, err)
}

func (s *session) handleSTOR(arg string) { s.store(arg, false) }

func (s *session) handleAPPE(arg string) { s.store(arg, true) }

func (s *session) store(arg string, appendMode bool) {
	if arg == "" {
		s.reply(501, "Missing file name")
		return
	}
	name := s.task.Abs(arg)
	var (
		f   *os.File
		err error
	)
	if appendMode {
		f, err = s.task.OpenAppend(arg)
	} else {
		f, err = s.task.Create(arg)
	}
	if err != nil {
		s.resetData()
		s.replyErr(550, arg, err)
		return
	}
	store, err := transfer.NewFileStore(f)
	if err != nil {
		f.Close()
		s.resetData()
		s.replyErr(550, arg, err)
		return
	}

	conn, ok := s.dataConn()
	if !ok {
		f.Close()
		return
	}
	defer conn.Close()

	sess, release, err := s.srv.pool.Session(s.srv.opts.Transfer)
	if err != nil {
		f.Close()
		s.reply(451, "Local error: %v", err)
		return
	}
	defer release()

	tr := s.srv.svc.Track(models.ProtocolFTP, transfer.DirStreamToStore, name)
	sess.OnChunk = tr.OnChunk
	res, err := sess.StreamToStore(transfer.NewConnStream(conn, 0), store)
	if cerr := f.Close(); cerr != nil && err == nil {
		logger.Log.Warn("Closing uploaded file failed", "path", name, "err", cerr)
	}
	if terr := s.task.Chtimes(arg, time.Now()); terr != nil {
		logger.Log.Warn("Time stamping failed", "path", name, "err", terr)
	}
	tr.Finish(res, err)
	s.finishTransfer(name, err)
}

// finishTransfer logs the failing side and sends the final reply.
func (s *session) finishTransfer(name string, err error) {
	if err == nil {
		s.reply(226, "Transfer complete")
		return
	}
	outcome, _ := transfer.OutcomeOf(err)
	switch outcome {
	case transfer.StoreReadExhausted:
		logger.Log.Error("There was an error reading file from file system", "path", name, "err", err)
		s.reply(451, "Requested action aborted: local error in processing")
	case transfer.StoreWriteExhausted:
		logger.Log.Error("There was an error writing file to file system", "path", name, "err", err)
		s.reply(451, "Requested action aborted: local error in processing")
	case transfer.StreamWriteExhausted:
		logger.Log.Error("There was an error writing file to the network", "path", name, "err", err)
		s.reply(426, "Connection closed; transfer aborted")
	case transfer.StreamReadExhausted:
		logger.Log.Error("There was an error reading file from the network", "path", name, "err", err)
		s.reply(426, "Connection closed; transfer aborted")
	default:
		logger.Log.Error("Transfer failed", "path", name, "err", err)
		s.reply(451, "Requested action aborted: %v", err)
	}
}

func (s *session) handleDELE(arg string) {
	if err := s.task.Remove(arg); err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(250, "File deleted")
}

func (s *session) handleMKD(arg string) {
	if err := s.task.Mkdir(arg); err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(257, "%q created", s.task.Abs(arg))
}

func (s *session) handleRMD(arg string) {
	if err := s.task.Rmdir(arg); err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(250, "Directory removed")
}

func (s *session) handleRNFR(arg string) {
	if _, err := s.task.Stat(arg); err != nil {
		s.renameFrom = ""
		s.replyErr(550, arg, err)
		return
	}
	s.renameFrom = arg
	s.reply(350, "Ready for RNTO")
}

func (s *session) handleRNTO(arg string) {
	from := s.renameFrom
	s.renameFrom = ""
	if from == "" {
		s.reply(503, "RNFR required first")
		return
	}
	if err := s.task.Rename(from, arg); err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(250, "Rename successful")
}

func (s *session) handleSIZE(arg string) {
	if arg == "" {
		s.reply(501, "Missing file name")
		return
	}
	if strings.HasSuffix(arg, "/") {
		s.reply(213, "0")
		return
	}
	if base := path.Base(s.task.Abs(arg)); base == formatFile || base == hformatFile {
		s.reply(213, "0")
		return
	}
	fi, err := s.task.Stat(arg)
	if err != nil {
		s.replyErr(550, arg, err)
		return
	}
	if fi.IsDir() {
		s.reply(213, "0")
		return
	}
	s.reply(213, "%s", strconv.FormatInt(fi.Size(), 10))
}

func (s *session) handleMDTM(arg string) {
	fi, err := s.task.Stat(arg)
	if err != nil {
		s.replyErr(550, arg, err)
		return
	}
	s.reply(213, "%s", fi.ModTime().UTC().Format("20060102150405"))
}
