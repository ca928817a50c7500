package mp4

import "encoding/binary"

// aligned(8) class SampleGroupDescriptionBox (unsigned int(32) handler_type)
//     extends FullBox('sgpd', version, 0){
//     unsigned int(32) grouping_type;
//     if (version==1) { unsigned int(32) default_length; }
//     unsigned int(32) entry_count;
//     for (i = 1 ; i <= entry_count ; i++){
//         if (version==1) {
//             if (default_length==0) {
//                 unsigned int(32) description_length;
//             }
//         }
//         SampleGroupEntry (grouping_type);
//     }
// }
//
// aligned(8) class SampleToGroupBox
//     extends FullBox(‘sbgp’, version, 0) {
//     unsigned int(32) grouping_type;
//     if (version == 1) {
//         unsigned int(32) grouping_type_parameter;
//     }
//     unsigned int(32) entry_count;
//     for (i=1; i <= entry_count; i++) {
//         unsigned int(32) sample_count;
//         unsigned int(32) group_description_index;
//     }
// }

var roll = [4]byte{'r', 'o', 'l', 'l'}

// makeRollRecovery returns the sgpd/sbgp pair declaring every sample of an
// audio track as needing one sample of pre-roll.
func makeRollRecovery(samples uint32) []byte {
	sgpd := NewFullBox(TypeSGPD, 1)
	buf := sgpd.Encode(26)
	buf = append(buf, roll[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 2)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = binary.BigEndian.AppendUint16(buf, 0xFFFF)

	sbgp := NewFullBox(TypeSBGP, 0)
	buf = append(buf, sbgp.Encode(28)...)
	buf = append(buf, roll[:]...)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	buf = binary.BigEndian.AppendUint32(buf, samples)
	buf = binary.BigEndian.AppendUint32(buf, 1)
	return buf
}
