package protocol

// BanchoMessage is the SendMessage payload shape (§4.7).
type BanchoMessage struct {
	Sender   string
	Content  string
	Target   string
	SenderID int32
}

func ReadBanchoMessage(r *Reader) (BanchoMessage, error) {
	var m BanchoMessage
	var err error
	if m.Sender, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Content, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.Target, err = r.ReadString(); err != nil {
		return m, err
	}
	if m.SenderID, err = r.ReadI32(); err != nil {
		return m, err
	}
	return m, nil
}

func WriteBanchoMessage(w *Writer, m BanchoMessage) {
	w.WriteString(m.Sender)
	w.WriteString(m.Content)
	w.WriteString(m.Target)
	w.WriteI32(m.SenderID)
}

// ClientChangeAction is the OSU_USER_CHANGE_ACTION payload shape (§4.7).
type ClientChangeAction struct {
	OnlineStatus uint8
	Description  string
	BeatmapMD5   string
	Mods         uint32
	Mode         uint8
	BeatmapID    int32
}

func ReadClientChangeAction(r *Reader) (ClientChangeAction, error) {
	var a ClientChangeAction
	var err error
	if a.OnlineStatus, err = r.ReadU8(); err != nil {
		return a, err
	}
	if a.Description, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.BeatmapMD5, err = r.ReadString(); err != nil {
		return a, err
	}
	if a.Mods, err = r.ReadU32(); err != nil {
		return a, err
	}
	if a.Mode, err = r.ReadU8(); err != nil {
		return a, err
	}
	if a.BeatmapID, err = r.ReadI32(); err != nil {
		return a, err
	}
	return a, nil
}

func WriteClientChangeAction(w *Writer, a ClientChangeAction) {
	w.WriteU8(a.OnlineStatus)
	w.WriteString(a.Description)
	w.WriteString(a.BeatmapMD5)
	w.WriteU32(a.Mods)
	w.WriteU8(a.Mode)
	w.WriteI32(a.BeatmapID)
}
